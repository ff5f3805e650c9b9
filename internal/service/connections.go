package service

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"querydeck/internal/core"
)

// ConnectionService manages the saved connection hierarchy and keeps
// passwords encrypted at rest.
type ConnectionService struct {
	repo   core.ConnectionRepository
	crypto *EncryptionService
	log    logrus.FieldLogger
}

func NewConnectionService(repo core.ConnectionRepository, crypto *EncryptionService, log logrus.FieldLogger) *ConnectionService {
	return &ConnectionService{repo: repo, crypto: crypto, log: log}
}

func (s *ConnectionService) CreateCategory(name string) (*core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &core.ValidationError{Reason: "category name is required"}
	}
	return s.repo.CreateCategory(name)
}

func (s *ConnectionService) DeleteCategory(id int64) error {
	return s.repo.DeleteCategory(id)
}

func (s *ConnectionService) CreateGroup(categoryID int64, name string) (*core.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &core.ValidationError{Reason: "group name is required"}
	}
	return s.repo.CreateGroup(categoryID, name)
}

func (s *ConnectionService) DeleteGroup(id int64) error {
	return s.repo.DeleteGroup(id)
}

// Create validates conn, encrypts its password and stores it. The plaintext
// password is cleared from conn.
func (s *ConnectionService) Create(conn *core.ConnectionDescriptor) error {
	if err := validateConnection(conn); err != nil {
		return err
	}
	enc, err := s.crypto.Encrypt(conn.Password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}
	conn.PasswordEnc = enc
	conn.Password = ""
	if err := s.repo.Create(conn); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"connection": conn.ID, "driver": conn.Driver}).Info("connection saved")
	return nil
}

// Update stores conn. An empty password keeps the stored one.
func (s *ConnectionService) Update(conn *core.ConnectionDescriptor) error {
	if err := validateConnection(conn); err != nil {
		return err
	}
	existing, err := s.Get(conn.ID)
	if err != nil {
		return err
	}
	conn.PasswordEnc = existing.PasswordEnc
	if conn.Password != "" {
		enc, err := s.crypto.Encrypt(conn.Password)
		if err != nil {
			return fmt.Errorf("failed to encrypt password: %w", err)
		}
		conn.PasswordEnc = enc
		conn.Password = ""
	}
	return s.repo.Update(conn)
}

func (s *ConnectionService) Delete(id int64) error {
	return s.repo.Delete(id)
}

// Get returns the stored descriptor with the password still encrypted.
func (s *ConnectionService) Get(id int64) (*core.ConnectionDescriptor, error) {
	conn, err := s.repo.GetByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection %d: %w", id, core.ErrNotFound)
	}
	return conn, err
}

// Resolve returns a descriptor ready to hand to an executor.
func (s *ConnectionService) Resolve(id int64) (core.ConnectionDescriptor, error) {
	conn, err := s.Get(id)
	if err != nil {
		return core.ConnectionDescriptor{}, err
	}
	pw, err := s.crypto.Decrypt(conn.PasswordEnc)
	if err != nil {
		return core.ConnectionDescriptor{}, fmt.Errorf("failed to decrypt password of connection %d: %w", id, err)
	}
	conn.Password = pw
	conn.PasswordEnc = ""
	return *conn, nil
}

func (s *ConnectionService) Tree() ([]core.Category, error) {
	return s.repo.Tree()
}

func (s *ConnectionService) Joined() ([]core.JoinedConnection, error) {
	return s.repo.Joined()
}

// Label returns "category -> group -> name" for a connection id.
func (s *ConnectionService) Label(id int64) (string, error) {
	joined, err := s.repo.Joined()
	if err != nil {
		return "", err
	}
	for _, j := range joined {
		if j.Connection.ID == id {
			return j.Label(), nil
		}
	}
	return "", fmt.Errorf("connection %d: %w", id, core.ErrNotFound)
}

func validateConnection(conn *core.ConnectionDescriptor) error {
	if strings.TrimSpace(conn.Name) == "" {
		return &core.ValidationError{Reason: "connection name is required"}
	}
	kind, ok := DriverKinds[conn.Driver]
	if !ok {
		return &core.ValidationError{Reason: fmt.Sprintf("unsupported driver %q", conn.Driver)}
	}
	if conn.Kind == "" {
		conn.Kind = kind
	}
	if conn.Kind != kind {
		return &core.ValidationError{Reason: fmt.Sprintf("driver %s expects a %s connection", conn.Driver, kind)}
	}
	if kind == core.KindFile && conn.Path == "" {
		return &core.ValidationError{Reason: "file path is required"}
	}
	if kind == core.KindHost && conn.Host == "" && conn.Options["dsn"] == "" {
		return &core.ValidationError{Reason: "host is required"}
	}
	return nil
}
