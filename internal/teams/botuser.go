package teams

// BotUser identifies a chat participant either by Azure AD object id or by
// the channel-native id. It is derived once per turn from the incoming
// channel account and never persisted on its own.
type BotUser struct {
	UserID          string
	UserName        string
	IsAzureAdUserID bool
}

// ParseBotUserInfo derives a BotUser from a channel account. The Azure AD
// object id wins when present; otherwise the channel-native id is used.
func ParseBotUserInfo(from ChannelAccount) BotUser {
	if from.AadObjectID != "" {
		return BotUser{
			UserID:          from.AadObjectID,
			UserName:        from.Name,
			IsAzureAdUserID: true,
		}
	}
	return BotUser{
		UserID:          from.ID,
		UserName:        from.Name,
		IsAzureAdUserID: false,
	}
}
