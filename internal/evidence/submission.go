package evidence

import (
	"github.com/kazz187/fieldguild/pkg/cerr"
)

// Submission is the evidence gathered for one resolve attempt. It is kept as
// is between a failed attempt and its retry.
type Submission struct {
	TaskID    string
	Photo     *Photo
	Latitude  float64
	Longitude float64
	Note      string
}

func (s *Submission) Validate() error {
	if s == nil || s.TaskID == "" {
		return cerr.NewError(cerr.InvalidArgument, "task id is required", nil)
	}
	if s.Photo.Empty() {
		return cerr.NewError(cerr.InvalidArgument, "evidence required", nil)
	}
	if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
		return cerr.NewError(cerr.OutOfRange, "coordinates out of range", nil)
	}
	return nil
}

func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	c := *s
	if s.Photo != nil {
		p := *s.Photo
		c.Photo = &p
	}
	return &c
}
