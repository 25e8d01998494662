package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/database"
	"github.com/stemsi/exstem-runtime/internal/logger"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
	"github.com/stemsi/exstem-runtime/internal/service"
	"golang.org/x/crypto/bcrypt"
)

// examFile is the on-disk description of an exam to seed.
type examFile struct {
	Title           string         `json:"title"`
	DurationMinutes int            `json:"duration_minutes"`
	WindowMinutes   int            `json:"window_minutes"`
	Questions       []questionFile `json:"questions"`
}

type questionFile struct {
	Statement     string         `json:"statement"`
	Options       []model.Option `json:"options"`
	Correct       string         `json:"correct"`
	Marks         float64        `json:"marks"`
	NegativeMarks float64        `json:"negative_marks"`
}

func main() {
	file := flag.String("file", "", "Exam definition JSON (built-in sample when empty)")
	students := flag.Int("students", 0, "Also seed N students named user1..userN")
	studentPassword := flag.String("password", "stemsijaya", "Password for seeded students")
	publish := flag.Bool("publish", true, "Publish the exam and warm its Redis cache")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	def, err := loadExamFile(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to read exam definition")
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	examService := service.NewExamService(examRepo, questionRepo, rdb, log)

	fmt.Printf("=== Seeding exam %q (%d questions) ===\n", def.Title, len(def.Questions))

	exam := &model.Exam{
		Title:           def.Title,
		DurationMinutes: def.DurationMinutes,
		Status:          model.ExamStatusDraft,
	}
	if def.WindowMinutes > 0 {
		start := time.Now()
		end := start.Add(time.Duration(def.WindowMinutes) * time.Minute)
		exam.ScheduledStart, exam.ScheduledEnd = &start, &end
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	questions, err := storedQuestions(exam.ID, def.Questions)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid question")
	}
	if err := questionRepo.CreateBatch(ctx, questions); err != nil {
		log.Fatal().Err(err).Msg("Failed to create questions")
	}

	if *publish {
		if err := examService.Publish(ctx, exam.ID); err != nil {
			log.Fatal().Err(err).Msg("Failed to publish exam")
		}
	}

	fmt.Printf("Created exam with ID: %s\n", exam.ID)

	if *students > 0 {
		seedStudents(ctx, log, repository.NewStudentRepository(pool), *students, *studentPassword, cfg.BcryptCost)
	}
}

func loadExamFile(path string) (*examFile, error) {
	if path == "" {
		return sampleExam(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def examFile
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("decode exam file: %w", err)
	}
	if def.Title == "" || def.DurationMinutes <= 0 {
		return nil, errors.New("title and a positive duration_minutes are required")
	}
	return &def, nil
}

func storedQuestions(examID uuid.UUID, defs []questionFile) ([]model.StoredQuestion, error) {
	questions := make([]model.StoredQuestion, 0, len(defs))
	for i, d := range defs {
		q := model.Question{Options: d.Options}
		if !q.HasOption(d.Correct) {
			return nil, fmt.Errorf("question %d: correct option %q is not among its options", i+1, d.Correct)
		}
		opts, err := json.Marshal(d.Options)
		if err != nil {
			return nil, err
		}
		marks := d.Marks
		if marks == 0 {
			marks = 1
		}
		questions = append(questions, model.StoredQuestion{
			ExamID:        examID,
			Statement:     d.Statement,
			Options:       opts,
			CorrectOption: d.Correct,
			Sequence:      i + 1,
			Marks:         marks,
			NegativeMarks: d.NegativeMarks,
		})
	}
	return questions, nil
}

func seedStudents(ctx context.Context, log zerolog.Logger, repo *repository.StudentRepository, n int, password string, cost int) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	created := 0
	for i := 1; i <= n; i++ {
		s := &model.Student{
			NIS:          fmt.Sprintf("%05d", i),
			NISN:         fmt.Sprintf("user%d", i),
			Name:         fmt.Sprintf("Peserta %d", i),
			PasswordHash: string(hashed),
		}
		if err := repo.Create(ctx, s); err != nil {
			if !errors.Is(err, repository.ErrDuplicateNISN) {
				fmt.Printf("Error creating student %s: %v\n", s.NISN, err)
			}
			continue
		}
		created++
	}
	fmt.Printf("Seed completed! Added %d/%d students.\n", created, n)
}

func sampleExam() *examFile {
	abcd := func(a, b, c, d string) []model.Option {
		return []model.Option{{Key: "A", Text: a}, {Key: "B", Text: b}, {Key: "C", Text: c}, {Key: "D", Text: d}}
	}
	return &examFile{
		Title:           "Latihan Jaringan Dasar",
		DurationMinutes: 30,
		WindowMinutes:   240,
		Questions: []questionFile{
			{Statement: "Lapisan OSI yang menangani routing antar jaringan adalah", Options: abcd("Data Link", "Network", "Transport", "Session"), Correct: "B"},
			{Statement: "Port default untuk HTTPS adalah", Options: abcd("80", "21", "443", "8080"), Correct: "C"},
			{Statement: "Perangkat yang bekerja di lapisan 2 OSI adalah", Options: abcd("Switch", "Router", "Repeater", "Modem"), Correct: "A"},
			{Statement: "Protokol untuk memberikan alamat IP secara otomatis adalah", Options: abcd("DNS", "FTP", "DHCP", "SMTP"), Correct: "C", NegativeMarks: 0.25},
			{Statement: "Subnet mask /24 setara dengan", Options: abcd("255.0.0.0", "255.255.0.0", "255.255.255.0", "255.255.255.255"), Correct: "C", Marks: 2},
		},
	}
}
