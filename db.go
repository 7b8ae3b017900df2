package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/tectiv3/docchat/assistant"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openDB connects to postgres for postgres:// DSNs and to a sqlite file otherwise
func openDB(dsn string, verbose bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		conn, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		dialector = postgres.New(postgres.Config{Conn: conn})
	} else {
		dialector = sqlite.Open(dsn)
	}

	level := logger.Warn
	if verbose {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// createUser stores a new user, ErrDuplicateUser when the email is taken
func (s *Server) createUser(username, email, passwordHash string) (*User, error) {
	if _, err := s.userByEmail(email); err == nil {
		return nil, ErrDuplicateUser
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		ThreadID:     assistant.NewThread,
	}
	if err := s.db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}

	return user, nil
}

func (s *Server) userByEmail(email string) (*User, error) {
	var user User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}

	return &user, nil
}

func (s *Server) userByID(id uint) (*User, error) {
	var user User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, err
	}

	return &user, nil
}

func (s *Server) saveToken(user *User, token string) error {
	user.AuthToken = token
	return s.db.Model(user).Update("auth_token", token).Error
}

func (s *Server) setThreadID(user *User, threadID string) error {
	user.ThreadID = threadID
	return s.db.Model(user).Update("thread_id", threadID).Error
}
