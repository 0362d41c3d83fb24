package usecases

import storage "github.com/practice-sem-2/group-chat-service/internal/storages"

const (
	groupsRoot         = "groups"
	chatsRoot          = "chats"
	messagesRoot       = "messages"
	userGroupsRoot     = "userGroups"
	userChatsRoot      = "userChats"
	usersRoot          = "users"
	userSettingsRoot   = "userSettings"
	passwordResetsRoot = "passwordResets"
)

func groupPath(groupID string) string {
	return storage.JoinPath(groupsRoot, groupID)
}

func chatPath(chatID string) string {
	return storage.JoinPath(chatsRoot, chatID)
}

func messagesPath(chatID string) string {
	return storage.JoinPath(messagesRoot, chatID)
}

func messagePath(chatID, messageID string) string {
	return storage.JoinPath(messagesRoot, chatID, messageID)
}

func userGroupsPath(userID string) string {
	return storage.JoinPath(userGroupsRoot, userID)
}

func userGroupPath(userID, groupID string) string {
	return storage.JoinPath(userGroupsRoot, userID, groupID)
}

func userChatsPath(userID string) string {
	return storage.JoinPath(userChatsRoot, userID)
}

func userChatPath(userID, chatID string) string {
	return storage.JoinPath(userChatsRoot, userID, chatID)
}

func userPath(userID string) string {
	return storage.JoinPath(usersRoot, userID)
}

// SettingsPath is where a user's preferences record lives.
func SettingsPath(userID string) string {
	return storage.JoinPath(userSettingsRoot, userID)
}

func passwordResetPath(key string) string {
	return storage.JoinPath(passwordResetsRoot, key)
}
