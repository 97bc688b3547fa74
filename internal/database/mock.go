package database

import (
	"github.com/npezzotti/meeting-relay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRecordStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRecordStore) CreateSession(params CreateSessionParams) (types.Session, error) {
	args := m.Called(params)
	return args.Get(0).(types.Session), args.Error(1)
}
func (m *MockRecordStore) GetSession(id string) (types.Session, error) {
	args := m.Called(id)
	return args.Get(0).(types.Session), args.Error(1)
}
func (m *MockRecordStore) ListSessions() ([]types.Session, error) {
	args := m.Called()
	return args.Get(0).([]types.Session), args.Error(1)
}
func (m *MockRecordStore) UpdateSession(id string, update SessionUpdate) (types.Session, error) {
	args := m.Called(id, update)
	return args.Get(0).(types.Session), args.Error(1)
}
func (m *MockRecordStore) DeleteSession(id string) (bool, error) {
	args := m.Called(id)
	return args.Bool(0), args.Error(1)
}
func (m *MockRecordStore) CreateTranscript(params CreateTranscriptParams) (types.TranscriptEntry, error) {
	args := m.Called(params)
	return args.Get(0).(types.TranscriptEntry), args.Error(1)
}
func (m *MockRecordStore) ListTranscripts() ([]types.TranscriptEntry, error) {
	args := m.Called()
	return args.Get(0).([]types.TranscriptEntry), args.Error(1)
}
func (m *MockRecordStore) ListTranscriptsBySession(sessionId string) ([]types.TranscriptEntry, error) {
	args := m.Called(sessionId)
	return args.Get(0).([]types.TranscriptEntry), args.Error(1)
}
func (m *MockRecordStore) DeleteTranscript(id string) (bool, error) {
	args := m.Called(id)
	return args.Bool(0), args.Error(1)
}
func (m *MockRecordStore) DeleteTranscriptsBySession(sessionId string) (int, error) {
	args := m.Called(sessionId)
	return args.Int(0), args.Error(1)
}
