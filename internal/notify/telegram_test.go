package notify

import (
	"context"
	"errors"
	"testing"

	"roombook/internal/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTelegramSender struct {
	mock.Mock
}

func (m *mockTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func messageTo(chatID int64, text string) interface{} {
	return mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == chatID && msg.Text == text
	})
}

func TestNotifyAdmins(t *testing.T) {
	t.Run("sends to every chat", func(t *testing.T) {
		sender := new(mockTelegramSender)
		sender.On("Send", messageTo(1, "hello")).Return(tgbotapi.Message{}, nil).Once()
		sender.On("Send", messageTo(2, "hello")).Return(tgbotapi.Message{}, nil).Once()

		n := NewNotifier(sender, []int64{1, 2}, nil)
		require.NoError(t, n.NotifyAdmins(context.Background(), "hello"))
		sender.AssertExpectations(t)
	})

	t.Run("keeps going after a failed chat", func(t *testing.T) {
		sender := new(mockTelegramSender)
		sender.On("Send", messageTo(1, "hi")).Return(tgbotapi.Message{}, errors.New("blocked")).Once()
		sender.On("Send", messageTo(2, "hi")).Return(tgbotapi.Message{}, nil).Once()

		n := NewNotifier(sender, []int64{1, 2}, nil)
		err := n.NotifyAdmins(context.Background(), "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chat 1")
		sender.AssertExpectations(t)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		sender := new(mockTelegramSender)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		n := NewNotifier(sender, []int64{1}, nil)
		err := n.NotifyAdmins(ctx, "hi")
		assert.ErrorIs(t, err, context.Canceled)
		sender.AssertNotCalled(t, "Send", mock.Anything)
	})
}

func TestNewTelegramNotifier_Disabled(t *testing.T) {
	n, err := NewTelegramNotifier(config.TelegramConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = NewTelegramNotifier(config.TelegramConfig{BotToken: "token"}, nil)
	require.NoError(t, err)
	assert.Nil(t, n)
}
