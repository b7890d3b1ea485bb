package history

import "time"

type Upload struct {
	ID        string
	UserID    int64
	ImageID   int64
	Filename  string
	Size      int64
	Status    string
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type GeneratedImage struct {
	ID         string
	UploadID   string
	UserID     int64
	URL        string
	Progress   float64
	ReceivedAt time.Time
}

func FormatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
