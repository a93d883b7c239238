package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("catalog.unsupported_dialect")
	// ErrCourseNotFound indicates no course matched the identifier.
	ErrCourseNotFound = errors.New("catalog.course_not_found")
	// ErrAlreadyEnrolled indicates the user already holds an enrollment.
	ErrAlreadyEnrolled = errors.New("catalog.already_enrolled")

	errEmptyDatabaseURL    = errors.New("catalog.empty_database_url")
	errSQLiteEmptyPath     = errors.New("catalog.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("catalog.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("catalog.unsupported_no_scheme")
)

// Store persists the course catalog, enrollments, lesson progress, and notes
// using GORM. This is the thin LMS read/write contract; authorization happens
// in the handler layer, never here.
type Store struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *Store) Driver() string {
	return store.driverLabel
}

type courseRecord struct {
	CourseID      string `gorm:"column:course_id;primaryKey"`
	Title         string `gorm:"column:title;not null"`
	Description   string `gorm:"column:description;not null;default:''"`
	InstructorID  string `gorm:"column:instructor_id;index;not null"`
	LessonCount   int    `gorm:"column:lesson_count;not null;default:0"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
}

func (courseRecord) TableName() string {
	return "courses"
}

type enrollmentRecord struct {
	EnrollmentID   string `gorm:"column:enrollment_id;primaryKey"`
	CourseID       string `gorm:"column:course_id;index:idx_enroll_course_user,unique;not null"`
	UserID         string `gorm:"column:user_id;index:idx_enroll_course_user,unique;index;not null"`
	EnrolledAtUnix int64  `gorm:"column:enrolled_at_unix;not null"`
}

func (enrollmentRecord) TableName() string {
	return "enrollments"
}

type lessonProgressRecord struct {
	ProgressID    string `gorm:"column:progress_id;primaryKey"`
	LessonID      string `gorm:"column:lesson_id;index:idx_progress_lesson_user,unique;not null"`
	UserID        string `gorm:"column:user_id;index:idx_progress_lesson_user,unique;index;not null"`
	Completed     bool   `gorm:"column:completed;not null;default:false"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (lessonProgressRecord) TableName() string {
	return "lesson_progress"
}

type noteRecord struct {
	NoteID        string `gorm:"column:note_id;primaryKey"`
	UserID        string `gorm:"column:user_id;index;not null"`
	LessonID      string `gorm:"column:lesson_id;index;not null"`
	Body          string `gorm:"column:body;not null"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
}

func (noteRecord) TableName() string {
	return "notes"
}

// Course is the catalog's external course shape.
type Course struct {
	ID           string
	Title        string
	Description  string
	InstructorID string
	LessonCount  int
}

// Note is a user's lesson note.
type Note struct {
	ID       string
	LessonID string
	Body     string
}

// Stats is the admin dashboard aggregate.
type Stats struct {
	CourseCount     int64
	EnrollmentCount int64
	NoteCount       int64
}

// NewStore constructs a GORM-backed catalog store.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("catalog.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("catalog.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&courseRecord{}, &enrollmentRecord{}, &lessonProgressRecord{}, &noteRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("catalog.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &Store{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// CreateCourse inserts a new course and returns its identifier.
func (store *Store) CreateCourse(ctx context.Context, title string, description string, instructorID string) (string, error) {
	record := courseRecord{
		CourseID:      uuid.NewString(),
		Title:         title,
		Description:   description,
		InstructorID:  instructorID,
		CreatedAtUnix: time.Now().UTC().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("catalog.create_course.%s: %w", store.driverLabel, err)
	}
	return record.CourseID, nil
}

// ListCourses returns every course ordered by creation time.
func (store *Store) ListCourses(ctx context.Context) ([]Course, error) {
	var records []courseRecord
	if err := store.db.WithContext(ctx).Order("created_at_unix DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("catalog.list_courses.%s: %w", store.driverLabel, err)
	}
	courses := make([]Course, 0, len(records))
	for _, record := range records {
		courses = append(courses, courseOf(record))
	}
	return courses, nil
}

// GetCourse returns one course by identifier.
func (store *Store) GetCourse(ctx context.Context, courseID string) (Course, error) {
	var record courseRecord
	err := store.db.WithContext(ctx).Where("course_id = ?", courseID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Course{}, fmt.Errorf("catalog.get_course.%s: %w", store.driverLabel, ErrCourseNotFound)
		}
		return Course{}, fmt.Errorf("catalog.get_course.%s: %w", store.driverLabel, err)
	}
	return courseOf(record), nil
}

// Enroll records the user's enrollment in a course.
func (store *Store) Enroll(ctx context.Context, courseID string, userID string) error {
	var course courseRecord
	if err := store.db.WithContext(ctx).Where("course_id = ?", courseID).Take(&course).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("catalog.enroll.%s: %w", store.driverLabel, ErrCourseNotFound)
		}
		return fmt.Errorf("catalog.enroll.%s: %w", store.driverLabel, err)
	}

	var existing int64
	if err := store.db.WithContext(ctx).Model(&enrollmentRecord{}).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Count(&existing).Error; err != nil {
		return fmt.Errorf("catalog.enroll.%s: %w", store.driverLabel, err)
	}
	if existing > 0 {
		return fmt.Errorf("catalog.enroll.%s: %w", store.driverLabel, ErrAlreadyEnrolled)
	}

	record := enrollmentRecord{
		EnrollmentID:   uuid.NewString(),
		CourseID:       courseID,
		UserID:         userID,
		EnrolledAtUnix: time.Now().UTC().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("catalog.enroll.%s: %w", store.driverLabel, err)
	}
	return nil
}

// UpsertProgress records lesson completion state for a user.
func (store *Store) UpsertProgress(ctx context.Context, lessonID string, userID string, completed bool) error {
	nowUnix := time.Now().UTC().Unix()
	var record lessonProgressRecord
	err := store.db.WithContext(ctx).Where("lesson_id = ? AND user_id = ?", lessonID, userID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = lessonProgressRecord{
			ProgressID:    uuid.NewString(),
			LessonID:      lessonID,
			UserID:        userID,
			Completed:     completed,
			UpdatedAtUnix: nowUnix,
		}
		if createErr := store.db.WithContext(ctx).Create(&record).Error; createErr != nil {
			return fmt.Errorf("catalog.upsert_progress.%s: %w", store.driverLabel, createErr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("catalog.upsert_progress.%s: %w", store.driverLabel, err)
	}
	result := store.db.WithContext(ctx).Model(&lessonProgressRecord{}).
		Where("progress_id = ?", record.ProgressID).
		Updates(map[string]any{"completed": completed, "updated_at_unix": nowUnix})
	if result.Error != nil {
		return fmt.Errorf("catalog.upsert_progress.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

// AddNote stores a lesson note for the user.
func (store *Store) AddNote(ctx context.Context, userID string, lessonID string, body string) (string, error) {
	record := noteRecord{
		NoteID:        uuid.NewString(),
		UserID:        userID,
		LessonID:      lessonID,
		Body:          body,
		CreatedAtUnix: time.Now().UTC().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("catalog.add_note.%s: %w", store.driverLabel, err)
	}
	return record.NoteID, nil
}

// ListNotes returns the user's notes, newest first.
func (store *Store) ListNotes(ctx context.Context, userID string) ([]Note, error) {
	var records []noteRecord
	if err := store.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at_unix DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("catalog.list_notes.%s: %w", store.driverLabel, err)
	}
	notes := make([]Note, 0, len(records))
	for _, record := range records {
		notes = append(notes, Note{ID: record.NoteID, LessonID: record.LessonID, Body: record.Body})
	}
	return notes, nil
}

// AdminStats aggregates catalog counts for the admin dashboard.
func (store *Store) AdminStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := store.db.WithContext(ctx).Model(&courseRecord{}).Count(&stats.CourseCount).Error; err != nil {
		return Stats{}, fmt.Errorf("catalog.stats.%s: %w", store.driverLabel, err)
	}
	if err := store.db.WithContext(ctx).Model(&enrollmentRecord{}).Count(&stats.EnrollmentCount).Error; err != nil {
		return Stats{}, fmt.Errorf("catalog.stats.%s: %w", store.driverLabel, err)
	}
	if err := store.db.WithContext(ctx).Model(&noteRecord{}).Count(&stats.NoteCount).Error; err != nil {
		return Stats{}, fmt.Errorf("catalog.stats.%s: %w", store.driverLabel, err)
	}
	return stats, nil
}

func courseOf(record courseRecord) Course {
	return Course{
		ID:           record.CourseID,
		Title:        record.Title,
		Description:  record.Description,
		InstructorID: record.InstructorID,
		LessonCount:  record.LessonCount,
	}
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("catalog.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("catalog.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("catalog.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("catalog.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
