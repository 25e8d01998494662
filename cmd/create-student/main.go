package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/database"
	"github.com/stemsi/exstem-runtime/internal/logger"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	resetPassword := flag.Bool("reset", false, "Reset the password of an existing student instead of creating one")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	if *resetPassword {
		fmt.Println("=== Reset Student Password ===")
	} else {
		fmt.Println("=== Create New Student ===")
	}

	nisn := prompt(reader, "Enter NISN: ")
	if len(nisn) < 4 {
		fmt.Println("Error: NISN must be at least 4 characters")
		os.Exit(1)
	}

	var name, nis string
	if !*resetPassword {
		name = prompt(reader, "Enter Name: ")
		if name == "" {
			fmt.Println("Error: Name is required")
			os.Exit(1)
		}
		nis = prompt(reader, "Enter NIS (optional): ")
	}

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		os.Exit(1)
	}
	password := string(bytePassword)
	if len(password) < 4 {
		fmt.Println("Error: Password must be at least 4 characters")
		os.Exit(1)
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	if *resetPassword {
		if err := studentRepo.UpdatePassword(ctx, nisn, string(hashed)); err != nil {
			log.Fatal().Err(err).Str("nisn", nisn).Msg("Failed to reset password")
		}
		fmt.Printf("\nSuccess! Password for NISN %s has been reset\n", nisn)
		return
	}

	student := &model.Student{
		NIS:          nis,
		NISN:         nisn,
		Name:         name,
		PasswordHash: string(hashed),
	}
	if err := studentRepo.Create(ctx, student); err != nil {
		if errors.Is(err, repository.ErrDuplicateNISN) {
			fmt.Printf("Error: NISN %s is already registered (use -reset to change its password)\n", nisn)
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("Failed to create student")
	}

	fmt.Printf("\nSuccess! Student '%s' (%s) created with ID: %d\n", student.Name, student.NISN, student.ID)
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
