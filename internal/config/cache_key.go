package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// ExamPayloadKey returns the cache key for an exam's candidate payload
func (r *CacheKeyStruct) ExamPayloadKey(examID uuid.UUID) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamAnswerKey returns the cache key for an exam's answer key hash
func (r *CacheKeyStruct) ExamAnswerKey(examID uuid.UUID) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel for an exam's violation feed
func (r *CacheKeyStruct) ExamMonitorChannel(examID uuid.UUID) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// AttemptMetaKey returns the cache key for an attempt's identity hash (exam, student, expiry)
func (r *CacheKeyStruct) AttemptMetaKey(attemptID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:meta", attemptID)
}

// AttemptAnswersKey returns the cache key for an attempt's autosaved answers hash
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptViolationsKey returns the cache key for an attempt's violation counter
func (r *CacheKeyStruct) AttemptViolationsKey(attemptID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:violations", attemptID)
}

// AttemptSubmitLatchKey returns the cache key guarding an attempt's single submission
func (r *CacheKeyStruct) AttemptSubmitLatchKey(attemptID uuid.UUID) string {
	return fmt.Sprintf("attempt:%s:submitted", attemptID)
}

var CacheKey = NewCacheKeyStruct()
