package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// EntityIDKey returns the cache key for a single row fetched by id.
func (r *CacheKeyStruct) EntityIDKey(prefix, id string) string {
	return fmt.Sprintf("%s:id:%s", prefix, id)
}

// EntityListKey returns the cache key for a list query within a scope.
func (r *CacheKeyStruct) EntityListKey(prefix, scope, fingerprint string) string {
	return fmt.Sprintf("%s:list:%s:%s", prefix, scope, fingerprint)
}

// EntityListScopePattern matches every cached list query of one scope.
func (r *CacheKeyStruct) EntityListScopePattern(prefix, scope string) string {
	return fmt.Sprintf("%s:list:%s:*", prefix, scope)
}

// EntityListPattern matches every cached list query of an entity.
func (r *CacheKeyStruct) EntityListPattern(prefix string) string {
	return fmt.Sprintf("%s:list:*", prefix)
}

// CandidateScope scopes list caches to one candidate's session.
func (r *CacheKeyStruct) CandidateScope(assessmentID string, candidateID int) string {
	return fmt.Sprintf("a:%s:c:%d", assessmentID, candidateID)
}

// AssessmentScope scopes list caches to one assessment's content.
func (r *CacheKeyStruct) AssessmentScope(assessmentID string) string {
	return fmt.Sprintf("a:%s", assessmentID)
}

// AssessmentEventsChannel returns the Redis PubSub channel for assessment lifecycle events.
func (r *CacheKeyStruct) AssessmentEventsChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:events", assessmentID)
}

var CacheKey = NewCacheKeyStruct()
