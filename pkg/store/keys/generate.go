package keys

import "fmt"

func GenConversationKey(convID string) string {
	return fmt.Sprintf(ConversationKey, convID)
}

func GenMessageListKey(convID string) string {
	return fmt.Sprintf(MessageListKey, convID)
}

func GenQueuedActionKey(actionID string) string {
	return fmt.Sprintf(QueuedActionKey, actionID)
}
