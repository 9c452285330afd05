package upload

// Tier orders formats by how directly the analysis service can consume
// them.
type Tier int

const (
	// TierCore formats (structured data and documents) are processed
	// immediately.
	TierCore Tier = 1
	// TierExtended formats need text or table extraction first, e.g.
	// images run through OCR.
	TierExtended Tier = 2
	// TierSpecialized formats go through optional processing paths.
	TierSpecialized Tier = 3
)

// Format is one entry of the upload registry.
type Format struct {
	Category string
	Tier     Tier
	// MaxBytes overrides DefaultMaxBytes when non-zero.
	MaxBytes int64
}

// DefaultMaxBytes applies to any category without an explicit ceiling.
const DefaultMaxBytes = 50 << 20

// Size ceilings per category.
const (
	maxCSV         = 100 << 20
	maxSpreadsheet = 100 << 20
	maxJSON        = 50 << 20
	maxText        = 10 << 20
	maxPDF         = 25 << 20
	maxImage       = 15 << 20
	maxParquet     = 200 << 20
)

// byMIME is the primary registry lookup, keyed by the reported MIME type.
var byMIME = map[string]Format{
	// Tier 1: core structured data and documents.
	"text/csv":                    {Category: "CSV data", Tier: TierCore, MaxBytes: maxCSV},
	"text/tab-separated-values":   {Category: "CSV data", Tier: TierCore, MaxBytes: maxCSV},
	"application/vnd.ms-excel":    {Category: "Excel workbook", Tier: TierCore, MaxBytes: maxSpreadsheet},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {Category: "Excel workbook", Tier: TierCore, MaxBytes: maxSpreadsheet},
	"application/json": {Category: "JSON document", Tier: TierCore, MaxBytes: maxJSON},
	"text/plain":       {Category: "plain text", Tier: TierCore, MaxBytes: maxText},

	// Tier 2: formats that need text or table extraction.
	"application/pdf": {Category: "PDF document", Tier: TierExtended, MaxBytes: maxPDF},
	"image/png":       {Category: "image", Tier: TierExtended, MaxBytes: maxImage},
	"image/jpeg":      {Category: "image", Tier: TierExtended, MaxBytes: maxImage},
	"image/tiff":      {Category: "image", Tier: TierExtended, MaxBytes: maxImage},
	"image/bmp":       {Category: "image", Tier: TierExtended, MaxBytes: maxImage},
	"image/gif":       {Category: "image", Tier: TierExtended, MaxBytes: maxImage},

	// Tier 3: specialized formats.
	"application/vnd.apache.parquet": {Category: "Parquet dataset", Tier: TierSpecialized, MaxBytes: maxParquet},
	"application/xml":                {Category: "XML document", Tier: TierSpecialized},
	"text/xml":                       {Category: "XML document", Tier: TierSpecialized},
}

// byExtension is the secondary lookup, used when the reported MIME type
// is absent or too generic to resolve.
var byExtension = map[string]Format{
	".csv":     byMIME["text/csv"],
	".tsv":     byMIME["text/tab-separated-values"],
	".xls":     byMIME["application/vnd.ms-excel"],
	".xlsx":    byMIME["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
	".json":    byMIME["application/json"],
	".txt":     byMIME["text/plain"],
	".pdf":     byMIME["application/pdf"],
	".png":     byMIME["image/png"],
	".jpg":     byMIME["image/jpeg"],
	".jpeg":    byMIME["image/jpeg"],
	".tiff":    byMIME["image/tiff"],
	".bmp":     byMIME["image/bmp"],
	".gif":     byMIME["image/gif"],
	".parquet": byMIME["application/vnd.apache.parquet"],
	".xml":     byMIME["application/xml"],
}

// categoryExamples is what an UnsupportedError suggests to the user. It
// names category groups rather than every individual extension.
const categoryExamples = "CSV, Excel, JSON or text data, PDF documents, and images (PNG, JPEG)"

// Limit returns the effective size ceiling for the format.
func (f Format) Limit() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return DefaultMaxBytes
}

// Registry returns a copy of the MIME-keyed registry, mainly so tests can
// sweep every entry.
func Registry() map[string]Format {
	out := make(map[string]Format, len(byMIME))
	for k, v := range byMIME {
		out[k] = v
	}
	return out
}
