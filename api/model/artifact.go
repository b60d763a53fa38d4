package model

const (
	ReportFile = "report.html"
	LogFile    = "log.html"
	OutputFile = "output.xml"
)

// ReportArtifacts lists the files robot writes into its output directory,
// in upload order.
var ReportArtifacts = []string{ReportFile, LogFile, OutputFile}

type ArtifactRef struct {
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	Object      string `json:"object"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// ObjectKey is the store key of an artifact: <folder>/<requestId>/<name>.
func ObjectKey(kind RunKind, requestID, name string) string {
	return ObjectPrefix(kind, requestID) + "/" + name
}

// ObjectPrefix is the folder holding every artifact of one run.
func ObjectPrefix(kind RunKind, requestID string) string {
	return kind.Folder() + "/" + requestID
}
