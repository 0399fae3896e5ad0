package client

import "time"

// Item is one news entry as exposed to the rest of the application.
// PublishedAt carries date precision only (the remote API reports
// yyyy-MM-dd without time-of-day).
type Item struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Summary     string    `json:"summary"`
}

// Pagination mirrors the remote API's page metadata.
type Pagination struct {
	Page      int
	PageSize  int
	PageCount int
	Total     int
}

// Page is the decoded content of one HTTP response. Never persisted.
type Page struct {
	Items      []Item
	Pagination *Pagination
}

// DateFormat is the fixed textual date format used by the remote API.
const DateFormat = "2006-01-02"

// Wire format of the remote API.

type envelope struct {
	Data  []wireItem `json:"data"`
	Error *wireError `json:"error"`
	Meta  *wireMeta  `json:"meta"`
}

type wireItem struct {
	ID         int            `json:"id"`
	Attributes wireAttributes `json:"attributes"`
}

type wireAttributes struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Time      string  `json:"time"`
	Introduce *string `json:"introduce"`
}

type wireError struct {
	Status  int    `json:"status"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type wireMeta struct {
	Pagination wirePagination `json:"pagination"`
}

type wirePagination struct {
	Page      int `json:"page"`
	PageSize  int `json:"pageSize"`
	PageCount int `json:"pageCount"`
	Total     int `json:"total"`
}
