package teams_test

import (
	"testing"

	"github.com/averol/huddlebot/internal/teams"
)

func TestParseBotUserInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from     teams.ChannelAccount
		expected teams.BotUser
	}{
		{
			name: "AAD object id present",
			from: teams.ChannelAccount{
				ID:          "29:channel-native",
				Name:        "Dana",
				AadObjectID: "4f1a9a2b-0000-0000-0000-000000000001",
			},
			expected: teams.BotUser{
				UserID:          "4f1a9a2b-0000-0000-0000-000000000001",
				UserName:        "Dana",
				IsAzureAdUserID: true,
			},
		},
		{
			name: "No AAD object id",
			from: teams.ChannelAccount{
				ID:   "29:channel-native",
				Name: "Dana",
			},
			expected: teams.BotUser{
				UserID:          "29:channel-native",
				UserName:        "Dana",
				IsAzureAdUserID: false,
			},
		},
		{
			name: "AAD id wins over channel id",
			from: teams.ChannelAccount{
				ID:          "29:other",
				AadObjectID: "aad-id",
			},
			expected: teams.BotUser{
				UserID:          "aad-id",
				IsAzureAdUserID: true,
			},
		},
		{
			name:     "Empty account",
			from:     teams.ChannelAccount{},
			expected: teams.BotUser{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := teams.ParseBotUserInfo(tt.from)
			if got != tt.expected {
				t.Errorf("ParseBotUserInfo() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}
