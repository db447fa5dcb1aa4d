package models

import "time"

// Item is a content item stored in the host store.
type Item struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind"`
	Title         string    `json:"title"`
	Slug          string    `json:"slug"`
	Body          string    `json:"body"`
	Excerpt       string    `json:"excerpt,omitempty"`
	Status        string    `json:"status"`
	AuthorID      int64     `json:"author_id,omitempty"`
	Parent        int64     `json:"parent,omitempty"`
	MenuOrder     int       `json:"menu_order,omitempty"`
	Password      string    `json:"-"`
	CommentStatus string    `json:"comment_status,omitempty"`
	GUID          string    `json:"guid,omitempty"`
	Date          time.Time `json:"date"`
	DateGMT       time.Time `json:"date_gmt"`
	CreatedAt     time.Time `json:"created_at"`
}

// Term is a taxonomy term.
type Term struct {
	ID       int64  `json:"id"`
	Taxonomy string `json:"taxonomy"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Parent   int64  `json:"parent,omitempty"`
	Count    int    `json:"count"`
}

// MediaAsset is a locally hosted media file registered in the store.
type MediaAsset struct {
	ID          int64     `json:"id"`
	File        string    `json:"file"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Caption     string    `json:"caption,omitempty"`
	Alt         string    `json:"alt,omitempty"`
	Description string    `json:"description,omitempty"`
	MimeType    string    `json:"mime_type"`
	Checksum    string    `json:"checksum"`
	SourceURL   string    `json:"source_url,omitempty"`
	ParentID    int64     `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedirectRule maps a legacy path to a local path.
type RedirectRule struct {
	ID      int64  `json:"id"`
	GroupID int64  `json:"group_id"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	Code    int    `json:"code"`
}

// Run records one completed import invocation.
type Run struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Created    int       `json:"created"`
	Existing   int       `json:"existing"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
}

// FileMetadata describes a file in the media directory.
type FileMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
