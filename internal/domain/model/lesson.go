package model

import "github.com/alenakom/speechstar/internal/domain/enums"

type Lesson struct {
	Cohort   enums.Cohort `json:"cohort"`
	Day      int          `json:"day"`
	Title    string       `json:"title"`
	Body     string       `json:"body"`
	ImageKey string       `json:"image_key"` // S3 object key, empty when the lesson has no illustration
}
