package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	ErrEmptySelection = errors.New("no image selected")
	ErrInvalidUserID  = errors.New("user id must be a positive integer")
	ErrMissingImageID = errors.New("upload response carries no image id")
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) String() string {
	return string(r)
}

type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// ImageRef is an image stored by the backend. The client never interprets it.
type ImageRef struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type ImageList struct {
	Data []ImageRef `json:"data"`
}

type UploadedImage struct {
	ID int64 `json:"id"`
}

type UploadResponse struct {
	Image *UploadedImage `json:"image"`
}

func (r *UploadResponse) ImageID() (int64, error) {
	if r == nil || r.Image == nil || r.Image.ID == 0 {
		return 0, ErrMissingImageID
	}
	return r.Image.ID, nil
}

type GenerationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GenerationEvent is one generated variation pushed by the backend.
type GenerationEvent struct {
	Progress float64 `json:"progress"`
	URL      string  `json:"url"`
}

// GenerationEnvelope is the payload of the image.generated event.
type GenerationEnvelope struct {
	ImageData GenerationEvent `json:"imageData"`
}

const (
	EventImageGenerated = "image.generated"
	imageChannelPrefix  = "images."
)

// ImageChannel returns the channel the backend publishes a user's variations on.
func ImageChannel(userID int64) string {
	return imageChannelPrefix + strconv.FormatInt(userID, 10)
}

func ParseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUserID, s)
	}
	return id, nil
}

const octetStream = "application/octet-stream"

// Selection is a file picked for upload together with its inline preview.
type Selection struct {
	Filename    string
	ContentType string
	Data        []byte
	Preview     string
}

// NewSelection stages data for upload. The backend decides whether the file is an
// acceptable image; see ContentTypeOf for how the type is chosen.
func NewSelection(filename, contentType string, data []byte) (*Selection, error) {
	if len(data) == 0 {
		return nil, ErrEmptySelection
	}

	contentType = ContentTypeOf(filename, contentType, data)
	return &Selection{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		Preview:     DataURL(contentType, data),
	}, nil
}

// ContentTypeOf prefers the declared media type, then the one registered for the
// file extension, then a sniff of data. Parameters such as charset are dropped.
func ContentTypeOf(filename, declared string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != octetStream {
		return mt
	}
	if ext := filepath.Ext(filename); ext != "" {
		if mt, _, err := mime.ParseMediaType(mime.TypeByExtension(ext)); err == nil {
			return mt
		}
	}
	if mt, _, err := mime.ParseMediaType(http.DetectContentType(data)); err == nil {
		return mt
	}
	return octetStream
}

func (s *Selection) Size() int {
	if s == nil {
		return 0
	}
	return len(s.Data)
}

func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
