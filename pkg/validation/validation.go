package validation

import (
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxDocumentSize is the largest CV accepted for upload (5 MiB).
const MaxDocumentSize int64 = 5 * 1024 * 1024

// User-facing messages for rejected documents.
const (
	DocumentTypeMessage = "Please upload a PDF or Word document (PDF, DOC, DOCX)"
	DocumentSizeMessage = "File size must be less than 5MB"
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	documentExtensions = map[string]bool{
		".pdf":  true,
		".doc":  true,
		".docx": true,
	}

	documentTypes = map[string]bool{
		"application/pdf":    true,
		"application/msword": true,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	}
)

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidatePassword only bounds the length; the demo password is short.
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) > 128 {
		return fmt.Errorf("password is too long (max 128 characters)")
	}
	return nil
}

// ValidateSessionID validates a session context or upload id.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session ID format")
	}
	return nil
}

// ValidateFlow validates a UI flow name.
func ValidateFlow(flow string) error {
	switch flow {
	case "lobby", "room", "practice":
		return nil
	case "":
		return fmt.Errorf("flow is required")
	}
	return fmt.Errorf("invalid flow (must be lobby, room, or practice)")
}

// ValidateDocumentType accepts PDF and Word documents, matched either by
// extension or by MIME type.
func ValidateDocumentType(name, contentType string) error {
	if documentExtensions[strings.ToLower(filepath.Ext(name))] {
		return nil
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && documentTypes[mediaType] {
		return nil
	}
	return fmt.Errorf("%s", DocumentTypeMessage)
}

// ValidateDocumentSize checks size against max; max <= 0 means MaxDocumentSize.
func ValidateDocumentSize(size, max int64) error {
	if max <= 0 {
		max = MaxDocumentSize
	}
	if size < 0 {
		return fmt.Errorf("invalid file size")
	}
	if size > max {
		return fmt.Errorf("%s", DocumentSizeMessage)
	}
	return nil
}

// ValidateJobDescription validates the optional job description.
func ValidateJobDescription(description string) error {
	if !utf8.ValidString(description) {
		return fmt.Errorf("job description contains invalid characters")
	}
	return ValidateStringLength(description, 0, 10000, "job description")
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
