package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
	StorageGCS   = "gcs"
)

const (
	ProviderOpenAI = "openai"
	ProviderVertex = "vertex"
)

const (
	LeaseMemory = "memory"
	LeaseRedis  = "redis"
)

// 文件上传相关常量
const (
	MimeImage       = "image/"
	MimePNG         = "image/png"
	MimePDF         = "application/pdf"
	MimeJSON        = "application/json"
	MimeOctetStream = "application/octet-stream"
)

// 制品文件名
const (
	SchemaFileName    = "qp_data.json"
	EvaluationDirName = "evaluation"
	PageImagePattern  = "page%d.png"
)

const ExtPDF = ".pdf"

var (
	AllowedDocumentExtensions = []string{ExtPDF}
)
