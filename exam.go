package ecgstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Exam statuses
const (
	ExamStatusPending   = "pending"
	ExamStatusCompleted = "completed"
	ExamStatusCanceled  = "canceled"
)

// ECG wave and interval types
const (
	WaveP   = "P"
	WaveQRS = "QRS"
	WaveT   = "T"
	WavePR  = "PR"
	WaveQT  = "QT"
	WaveST  = "ST"
)

// WaveDuration is the measured duration of one ECG wave or interval
type WaveDuration struct {
	Wave     string  `json:"wave"`
	Duration float64 `json:"duration"` // milliseconds
}

// WaveAxis is the electrical axis of one ECG wave
type WaveAxis struct {
	Wave  string  `json:"wave"`
	Value float64 `json:"value"` // degrees
}

// EcgParameters groups the signal measurements of one recording
type EcgParameters struct {
	HeartRate *float64       `json:"heartRate,omitempty"` // beats per minute
	Durations []WaveDuration `json:"durations,omitempty"`
	Axes      []WaveAxis     `json:"axes,omitempty"`
}

// Exam is one ECG examination record
type Exam struct {
	Record

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	ExamDate    time.Time  `json:"examDate"`
	Status      string     `json:"status"`
	Report      string     `json:"report,omitempty"`
	Categories  []string   `json:"categories,omitempty"`
	UserID      string     `json:"userId,omitempty"`
	PatientID   string     `json:"patientId,omitempty"`
	PatientName string     `json:"patientName,omitempty"`
	Sex         string     `json:"sex,omitempty"` // "M" or "F"
	Age         *int       `json:"age,omitempty"`
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`

	Amplitude     *float64       `json:"amplitude,omitempty"` // mm/mV
	Velocity      *float64       `json:"velocity,omitempty"`  // mm/s
	EcgParameters *EcgParameters `json:"ecgParameters,omitempty"`

	// ImageID links to the stored recording in the file store
	ImageID  string `json:"imageId,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`

	Version int `json:"version,omitempty"`
}

// Validate checks required fields and applies defaults
func (e *Exam) Validate() error {
	if e.ExamDate.IsZero() {
		return errors.New("examDate is required")
	}
	if e.Status == "" {
		e.Status = ExamStatusPending
	}
	switch e.Status {
	case ExamStatusPending, ExamStatusCompleted, ExamStatusCanceled:
	default:
		return fmt.Errorf("invalid status %q", e.Status)
	}
	switch e.Sex {
	case "", "M", "F":
	default:
		return fmt.Errorf("invalid sex %q", e.Sex)
	}
	if e.Version == 0 {
		e.Version = 1
	}
	return nil
}

// ExamDescriptor declares how exams are stored, filtered, sorted and cached
var ExamDescriptor = Descriptor{
	Name:     "exams",
	Singular: "exam",
	Filter: FilterDef{
		SearchFields:    []string{"title", "description", "report"},
		SearchDateField: "examDate",
		Equality: map[string]string{
			"status":    "status",
			"userId":    "userId",
			"patientId": "patientId",
			"sex":       "sex",
		},
		Ranges: []RangeDef{
			{MinParam: "minAmplitude", MaxParam: "maxAmplitude", Field: "amplitude", Kind: RangeNumber},
			{MinParam: "minVelocity", MaxParam: "maxVelocity", Field: "velocity", Kind: RangeNumber},
			{MinParam: "minHeartRate", MaxParam: "maxHeartRate", Field: "ecgParameters.heartRate", Kind: RangeNumber},
			{MinParam: "dateOfBirthFrom", MaxParam: "dateOfBirthTo", Field: "dateOfBirth", Kind: RangeDate},
			{MinParam: "examDateFrom", MaxParam: "examDateTo", Field: "examDate", Kind: RangeDate},
			{MinParam: "minAge", MaxParam: "maxAge", Field: "dateOfBirth", Kind: RangeAge},
		},
		CategoriesParam: "categories",
		CategoriesField: "categories",
		MatchTypeParam:  "matchType",
	},
	Sort: []SortKey{
		{Field: "examDate", Descending: true},
		{Field: "createdAt", Descending: true},
	},
	TTL: TTLPolicy{
		Entity:    time.Minute,
		Listing:   30 * time.Second,
		Aggregate: 5 * time.Minute,
	},
}

// ExamService wraps the generic service with exam-specific operations:
// attached recordings live in a FileStore and follow the exam's lifecycle.
type ExamService struct {
	*Service[*Exam]
	files *FileStore
}

// NewExamService creates the exam service. files may be nil when the
// deployment stores no recordings.
func NewExamService(store *DocStore, files *FileStore, deps ServiceDeps) *ExamService {
	repo := NewRepository(store, ExamDescriptor, func() *Exam { return &Exam{} })
	s := &ExamService{
		Service: NewService(repo, deps),
		files:   files,
	}

	if files != nil {
		s.OnHardDelete(func(ctx context.Context, e *Exam) error {
			if e.ImageID == "" {
				return nil
			}
			if err := files.Delete(ctx, e.ImageID); err != nil && !IsNotFound(err) {
				return err
			}
			return nil
		})
	}
	return s
}

// Files returns the attachment store, or nil
func (s *ExamService) Files() *FileStore { return s.files }

// CreateWithImage stores the recording first, then the exam referencing
// it. A failed exam write removes the recording again so no orphan
// remains.
func (s *ExamService) CreateWithImage(ctx context.Context, e *Exam, filename, contentType string, size int64, content io.Reader) (*Exam, error) {
	if s.files == nil {
		return nil, fmt.Errorf("%w: no file store configured", ErrInvalidConfig)
	}

	info, err := s.files.Upload(ctx, filename, contentType, size, content, map[string]string{
		"entity": "exam",
	})
	if err != nil {
		return nil, err
	}

	e.ImageID = info.ID
	e.ImageURL = "/files/" + info.ID

	created, err := s.Create(ctx, e)
	if err != nil {
		if derr := s.files.Delete(ctx, info.ID); derr != nil {
			s.deps.Logger.Warn("orphaned exam image", "imageId", info.ID, "error", derr)
		}
		return nil, err
	}
	return created, nil
}

// DownloadImage streams the recording attached to an exam
func (s *ExamService) DownloadImage(ctx context.Context, examID string) (FileInfo, io.ReadCloser, error) {
	if s.files == nil {
		return FileInfo{}, nil, fmt.Errorf("%w: no file store configured", ErrInvalidConfig)
	}

	e, err := s.Get(ctx, examID)
	if err != nil {
		return FileInfo{}, nil, err
	}
	if e.ImageID == "" {
		return FileInfo{}, nil, ErrNotFound
	}
	return s.files.Download(ctx, e.ImageID)
}

// CategoryCounts returns live-exam counts per clinical category
func (s *ExamService) CategoryCounts(ctx context.Context) (map[string]int, error) {
	return s.CountBy(ctx, "categories")
}
