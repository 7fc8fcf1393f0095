package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/iJKos/TelegramHelper/internal/platform/observability"
)

const helpText = `<b>Команды</b>

/start_cron — запустить обработку по расписанию
/stop_cron — остановить обработку
/cron_status — состояние обработки
/renew_msg_data — синхронизировать сообщения с каналом`

func (b *Bot) handleHelp(msg *tgbotapi.Message) {
	b.reply(msg, helpText)
}

func (b *Bot) handleStartCron(msg *tgbotapi.Message) {
	if b.controller.StartLoop() {
		b.reply(msg, "Обработка запущена")
		return
	}

	b.reply(msg, "Обработка уже запущена")
}

func (b *Bot) handleStopCron(msg *tgbotapi.Message) {
	if b.controller.StopLoop() {
		b.reply(msg, "Обработка остановлена")
		return
	}

	b.reply(msg, "Обработка уже остановлена")
}

func (b *Bot) handleCronStatus(msg *tgbotapi.Message) {
	b.reply(msg, formatStatus(b.controller.Status()))
}

func formatStatus(status observability.RunStatus) string {
	var sb strings.Builder

	if status.Running {
		sb.WriteString("✅ Обработка запущена\n")
	} else {
		sb.WriteString("⏸ Обработка остановлена\n")
	}

	if status.CurrentStep != "" {
		fmt.Fprintf(&sb, "Текущий шаг: %s\n", status.CurrentStep)
	}

	if !status.LastRun.IsZero() {
		fmt.Fprintf(&sb, "Последний запуск: %s\n", status.LastRun.Format("2006-01-02 15:04:05 MST"))
	}

	if status.Interval != "" {
		fmt.Fprintf(&sb, "Интервал: %s\n", status.Interval)
	}

	if status.Funnel != "" {
		fmt.Fprintf(&sb, "Воронка (read / linked / to send): %s\n", status.Funnel)
	}

	return strings.TrimSpace(sb.String())
}

func (b *Bot) handleRenew(ctx context.Context, msg *tgbotapi.Message) {
	b.reply(msg, "Синхронизация с каналом...")

	added, err := b.renewer.RenewMessages(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("renew message data")
		b.reply(msg, fmt.Sprintf("Ошибка синхронизации: %s", err))

		return
	}

	b.reply(msg, fmt.Sprintf("Синхронизация завершена, добавлено записей: %d", added))
}
