package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamClipsKey returns the cache key for an exam code's catalog clip list
func (r *CacheKeyStruct) ExamClipsKey(examCode string) string {
	return fmt.Sprintf("exam:%s:clips", examCode)
}

// ExamCodesKey returns the cache key for the list of known exam codes
func (r *CacheKeyStruct) ExamCodesKey() string {
	return "exam:codes"
}

// AttemptLockKey returns the lock key serializing ledger writes for one operator and exam code
func (r *CacheKeyStruct) AttemptLockKey(userID, examCode string) string {
	return fmt.Sprintf("lock:attempt:%s:%s", examCode, userID)
}

// SchemaLockKey returns the lock key guarding header mutations of a ledger sheet
func (r *CacheKeyStruct) SchemaLockKey(sheet string) string {
	return fmt.Sprintf("lock:schema:%s", sheet)
}

// OperatorSessionKey returns the key holding the JTI of an operator's current session
func (r *CacheKeyStruct) OperatorSessionKey(operatorID string) string {
	return fmt.Sprintf("operator:%s:session", operatorID)
}

var CacheKey = NewCacheKeyStruct()
