package router

import (
	"path/filepath"
	"strings"
)

// MIME types the pipeline recognizes. Unknown extensions fall back to
// application/octet-stream and route only to the workflow track.
const (
	MimePDF    = "application/pdf"
	MimeDOCX   = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC    = "application/msword"
	MimePPTX   = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MimePPT    = "application/vnd.ms-powerpoint"
	MimeXLSX   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeXLS    = "application/vnd.ms-excel"
	MimeTXT    = "text/plain"
	MimeMD     = "text/markdown"
	MimeCSV    = "text/csv"
	MimeWebreq = "application/x-webreq"
	MimeBinary = "application/octet-stream"
)

var extToMime = map[string]string{
	".pdf":    MimePDF,
	".docx":   MimeDOCX,
	".doc":    MimeDOC,
	".pptx":   MimePPTX,
	".ppt":    MimePPT,
	".xlsx":   MimeXLSX,
	".xls":    MimeXLS,
	".txt":    MimeTXT,
	".md":     MimeMD,
	".csv":    MimeCSV,
	".png":    "image/png",
	".jpg":    "image/jpeg",
	".jpeg":   "image/jpeg",
	".gif":    "image/gif",
	".tiff":   "image/tiff",
	".webp":   "image/webp",
	".mp4":    "video/mp4",
	".mov":    "video/quicktime",
	".avi":    "video/x-msvideo",
	".mkv":    "video/x-matroska",
	".webm":   "video/webm",
	".mp3":    "audio/mpeg",
	".wav":    "audio/wav",
	".flac":   "audio/flac",
	".m4a":    "audio/mp4",
	".webreq": MimeWebreq,
}

// MimeFromFileName maps a filename extension to its MIME type.
func MimeFromFileName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if m, ok := extToMime[ext]; ok {
		return m
	}
	return MimeBinary
}

// IsImage reports whether the MIME type is an image.
func IsImage(mime string) bool { return strings.HasPrefix(mime, "image/") }

// IsVideo reports whether the MIME type is a video.
func IsVideo(mime string) bool { return strings.HasPrefix(mime, "video/") }

// IsAudio reports whether the MIME type is audio.
func IsAudio(mime string) bool { return strings.HasPrefix(mime, "audio/") }

// IsParseable reports whether the format parser can handle the MIME type.
func IsParseable(mime string) bool {
	switch mime {
	case MimePDF, MimeDOCX, MimeDOC, MimePPTX, MimePPT, MimeXLSX, MimeXLS, MimeTXT, MimeMD, MimeCSV:
		return true
	}
	return false
}
