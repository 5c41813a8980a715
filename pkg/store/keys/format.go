package keys

const (
	// notation dictionary for key formats:
	// conv  = conversation
	// msgs  = message list of a conversation
	// queue = queued action
	// meta  = engine bookkeeping
	// All keys are lowercase; segments are separated by ":"

	ConversationKey = "conv:%s"      // conv:<conversation_id>
	MessageListKey  = "conv:%s:msgs" // conv:<conversation_id>:msgs
	QueuedActionKey = "queue:%s"     // queue:<action_id>

	ConversationPrefix = "conv:"
	QueuePrefix        = "queue:"

	messageListSuffix = ":msgs"

	SchemaVersionKey = "meta:schema"
)
