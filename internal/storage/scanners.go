package storage

import (
	"database/sql"
	"time"

	"github.com/havenclimb/coursecup/internal/domain"
)

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// scanSeason scans a season row
func scanSeason(s scanner) (*domain.Season, error) {
	var season domain.Season
	var endedAt sql.NullTime
	if err := s.Scan(&season.ID, &season.Number, &season.Title, &season.Status,
		&season.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	season.EndedAt = scanNullTime(endedAt)
	return &season, nil
}

// scanCourse scans a course row
func scanCourse(s scanner) (*domain.Course, error) {
	var course domain.Course
	var expiresAt sql.NullTime
	var finalStandings sql.NullString
	if err := s.Scan(&course.ID, &course.SeasonNumber, &course.FullName, &course.Slug,
		&course.Status, &course.CreatedAt, &expiresAt, &finalStandings); err != nil {
		return nil, err
	}
	course.ExpiresAt = scanNullTime(expiresAt)
	course.FinalStandings = scanNullStringValue(finalStandings)
	return &course, nil
}

// scanUser scans a user row
func scanUser(s scanner) (*User, error) {
	var user User
	var lastLogin sql.NullTime
	if err := s.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsAdmin,
		&user.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	user.LastLogin = scanNullTime(lastLogin)
	return &user, nil
}
