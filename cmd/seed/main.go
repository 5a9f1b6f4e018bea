package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/doctor-slot-scheduling/internal/config"
	"github.com/hackgods/doctor-slot-scheduling/internal/db"
	"github.com/hackgods/doctor-slot-scheduling/internal/logging"
	"github.com/hackgods/doctor-slot-scheduling/internal/scheduling"
)

var specialtyNames = []string{
	"Cardiology",
	"Dermatology",
	"General Practice",
	"Neurology",
	"Pediatrics",
}

// Weekday office hours every seeded doctor works.
var officeHours = []scheduling.AvailabilityTemplate{
	{DayOfWeek: scheduling.Monday, StartTime: scheduling.NewTimeOfDay(9, 0), EndTime: scheduling.NewTimeOfDay(17, 0)},
	{DayOfWeek: scheduling.Tuesday, StartTime: scheduling.NewTimeOfDay(9, 0), EndTime: scheduling.NewTimeOfDay(17, 0)},
	{DayOfWeek: scheduling.Wednesday, StartTime: scheduling.NewTimeOfDay(9, 0), EndTime: scheduling.NewTimeOfDay(17, 0)},
	{DayOfWeek: scheduling.Thursday, StartTime: scheduling.NewTimeOfDay(9, 0), EndTime: scheduling.NewTimeOfDay(17, 0)},
	{DayOfWeek: scheduling.Friday, StartTime: scheduling.NewTimeOfDay(9, 0), EndTime: scheduling.NewTimeOfDay(17, 0)},
}

func main() {
	var doctors, patients int

	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate specialties, doctors with generated slots, and patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(doctors, patients)
		},
	}
	rootCmd.Flags().IntVar(&doctors, "doctors", 5, "doctors to create")
	rootCmd.Flags().IntVar(&patients, "patients", 200, "patients to create")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(doctorCount, patientCount int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("component", "seed").Logger()
	logger.Info().Int("doctors", doctorCount).Int("patients", patientCount).Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	repos := scheduling.NewPgRepositories(pool)
	gen := scheduling.NewGenerator(repos, cfg.HorizonMonths, cfg.Location, logger)
	dir := scheduling.NewDirectory(repos, gen, nil, logger)

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	specialties, err := seedSpecialties(ctx, dir, logger)
	if err != nil {
		return fmt.Errorf("seed specialties: %w", err)
	}
	if err := seedDoctors(ctx, dir, faker, specialties, doctorCount, logger); err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	if err := seedPatients(ctx, dir, faker, patientCount, logger); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	logger.Info().Msg("seed complete")
	return nil
}

// seedSpecialties creates the fixed specialty list, reusing names that already exist.
func seedSpecialties(ctx context.Context, dir *scheduling.Directory, logger zerolog.Logger) ([]scheduling.Specialty, error) {
	existing, err := dir.ListSpecialties(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]scheduling.Specialty, len(existing))
	for _, s := range existing {
		byName[s.Name] = s
	}

	out := make([]scheduling.Specialty, 0, len(specialtyNames))
	for _, name := range specialtyNames {
		if s, ok := byName[name]; ok {
			out = append(out, s)
			continue
		}
		s, err := dir.CreateSpecialty(ctx, name)
		if errors.Is(err, scheduling.ErrDuplicateSpecialty) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	logger.Info().Int("count", len(out)).Msg("specialties seeded")
	return out, nil
}

func seedDoctors(ctx context.Context, dir *scheduling.Directory, faker *gofakeit.Faker, specialties []scheduling.Specialty, count int, logger zerolog.Logger) error {
	if len(specialties) == 0 {
		return errors.New("no specialties to assign")
	}
	for i := 0; i < count; i++ {
		doc, err := dir.CreateDoctor(ctx, scheduling.DoctorInput{
			FirstName:    faker.FirstName(),
			LastName:     faker.LastName(),
			SpecialtyID:  specialties[i%len(specialties)].ID,
			Availability: officeHours,
		})
		if err != nil {
			return err
		}
		logger.Debug().Str("doctor_id", doc.ID.String()).Str("name", doc.FullName()).Msg("doctor seeded")
	}
	logger.Info().Int("count", count).Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, dir *scheduling.Directory, faker *gofakeit.Faker, count int, logger zerolog.Logger) error {
	oldest := time.Now().AddDate(-90, 0, 0)
	youngest := time.Now().AddDate(-1, 0, 0)

	for i := 0; i < count; i++ {
		identity := "seed|" + faker.UUID()
		_, err := dir.CreatePatient(ctx, scheduling.PatientInput{
			IdentityID: &identity,
			FirstName:  faker.FirstName(),
			LastName:   faker.LastName(),
			DOB:        faker.DateRange(oldest, youngest),
		})
		if err != nil {
			return err
		}
		if (i+1)%100 == 0 {
			logger.Info().Msgf("patients seeded: %d/%d", i+1, count)
		}
	}
	logger.Info().Int("count", count).Msg("patients seeded")
	return nil
}
