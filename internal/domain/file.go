package domain

import "time"

// SharedFile is the metadata of a file uploaded into a room. The bytes
// live with the blob collaborator under (roomKey, ID). MaxDownloads is
// fixed at upload time to room size minus one, so one copy reaches every
// other member; Downloads mirrors the cardinality of the downloaded-by
// set and never exceeds MaxDownloads.
type SharedFile struct {
	ID           string    `json:"id"`
	OwnerUID     string    `json:"owner"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Size         int64     `json:"size"`
	MaxDownloads int       `json:"maxDownloads"`
	Downloads    int       `json:"downloadCount"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Spent reports whether every other member got their copy.
func (f SharedFile) Spent() bool {
	return f.Downloads >= f.MaxDownloads
}
