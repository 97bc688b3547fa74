package lookup

import (
	"errors"
	"testing"

	"github.com/npezzotti/meeting-relay/internal/database"
	"github.com/npezzotti/meeting-relay/internal/testutil"
	"github.com/npezzotti/meeting-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestService_GetByID(t *testing.T) {
	store, err := database.NewFileStore(t.TempDir(), testutil.TestLogger(t))
	require.NoError(t, err)
	_, err = store.CreateSession(database.CreateSessionParams{Id: "sess-1", Status: types.SessionStatusStarted})
	require.NoError(t, err)

	svc := NewService(store, testutil.TestLogger(t))

	got, err := svc.GetByID("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.Id)

	_, err = svc.GetByID("nope")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestService_GetByExternalMeetingID(t *testing.T) {
	store, err := database.NewFileStore(t.TempDir(), testutil.TestLogger(t))
	require.NoError(t, err)
	for _, p := range []database.CreateSessionParams{
		{Id: "no-payload"},
		{Id: "first", ZoomRTMS: map[string]any{"meeting_uuid": "abc=="}},
		{Id: "other", ZoomRTMS: map[string]any{"meeting_uuid": "xyz"}},
		{Id: "second", ZoomRTMS: map[string]any{"meeting_uuid": "abc=="}},
	} {
		_, err := store.CreateSession(p)
		require.NoError(t, err)
	}

	svc := NewService(store, testutil.TestLogger(t))

	tests := []struct {
		name      string
		meetingId string
		wantId    string
		wantErr   error
	}{
		{name: "first match wins", meetingId: "abc==", wantId: "first"},
		{name: "single match", meetingId: "xyz", wantId: "other"},
		{name: "no match", meetingId: "missing", wantErr: database.ErrNotFound},
		{name: "empty id", meetingId: "", wantErr: database.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.GetByExternalMeetingID(tt.meetingId)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantId, got.Id)
		})
	}
}

func TestService_ReadsThroughStore(t *testing.T) {
	store, err := database.NewFileStore(t.TempDir(), testutil.TestLogger(t))
	require.NoError(t, err)
	svc := NewService(store, testutil.TestLogger(t))

	_, err = svc.GetByExternalMeetingID("late")
	require.ErrorIs(t, err, database.ErrNotFound)

	_, err = store.CreateSession(database.CreateSessionParams{Id: "s", ZoomRTMS: map[string]any{"meeting_uuid": "late"}})
	require.NoError(t, err)

	got, err := svc.GetByExternalMeetingID("late")
	require.NoError(t, err, "expected a session created after the first lookup to be visible")
	assert.Equal(t, "s", got.Id)
}

func TestService_ListError(t *testing.T) {
	store := new(database.MockRecordStore)
	listErr := errors.New("boom")
	store.On("ListSessions").Return([]types.Session(nil), listErr)

	svc := NewService(store, testutil.TestLogger(t))
	_, err := svc.GetByExternalMeetingID("abc")
	assert.ErrorIs(t, err, listErr)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "GetSession", mock.Anything)
}
