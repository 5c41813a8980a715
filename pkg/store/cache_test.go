package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store/keys"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store/kv"
)

func TestCacheConversationsAndMessages(t *testing.T) {
	c := NewCache(kv.NewMemory())
	require.NoError(t, c.EnsureSchema())

	conv := models.Conversation{ID: "c1", Kind: models.ConversationSupport, UnreadCount: 2}
	require.NoError(t, c.SaveConversation(conv))
	require.NoError(t, c.SaveMessages("c1", []models.Message{{ID: "m1", Content: "hi"}}))
	require.NoError(t, c.SaveConversation(models.Conversation{ID: "c2"}))

	convs, err := c.Conversations()
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "c1", convs[0].ID)
	assert.Equal(t, 2, convs[0].UnreadCount)

	msgs, err := c.Messages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)

	msgs, err = c.Messages("c2")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = c.Conversation("nope")
	assert.True(t, kv.IsNotFound(err))
}

func TestCacheActionsKeepSubmissionOrder(t *testing.T) {
	c := NewCache(kv.NewMemory())
	ids := []string{models.NewActionID(), models.NewActionID(), models.NewActionID()}
	for _, id := range ids {
		require.NoError(t, c.SaveAction(&models.QueuedAction{ID: id, Kind: models.ActionMarkRead, CreatedAt: time.Now()}))
	}
	require.NoError(t, c.DeleteAction(ids[1]))

	got, err := c.Actions()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[0], got[0].ID)
	assert.Equal(t, ids[2], got[1].ID)
}

func TestCacheSchemaMismatch(t *testing.T) {
	m := kv.NewMemory()
	require.NoError(t, m.Set(keys.SchemaVersionKey, []byte("99")))
	err := NewCache(m).EnsureSchema()
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestCacheRejectsInvalidIDs(t *testing.T) {
	c := NewCache(kv.NewMemory())
	assert.Error(t, c.SaveConversation(models.Conversation{ID: "a:b"}))
	assert.Error(t, c.SaveAction(&models.QueuedAction{}))
}
