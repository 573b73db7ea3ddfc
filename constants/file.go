package constants

import "strings"

// Document formats accepted by the ingestion boundary.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
	DOCX  = "DOCX"
)

var extToFormat = map[string]string{
	".pdf":  PDF,
	".png":  IMAGE,
	".jpg":  IMAGE,
	".jpeg": IMAGE,
	".docx": DOCX,
}

// MapExtToFormat maps a file extension (with or without the dot) to a
// canonical format name, or "" when the extension is not accepted.
func MapExtToFormat(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return extToFormat[ext]
}
