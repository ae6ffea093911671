// Package bot is the Telegram front-end. It is a thin adapter over the core
// services: balance and history are plain reads, and /send only ever
// reserves a debit; money moves when the payer confirms their PIN in the
// webview, through the same confirmation flow every chat channel uses.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestpay/gestpay-backend/internal/domain"
	"github.com/gestpay/gestpay-backend/internal/repository"
)

type accountDirectory interface {
	GetByTelegramChat(ctx context.Context, chatID int64) (*domain.Account, error)
	FindByIdentifier(ctx context.Context, key string) (*domain.Account, error)
}

type transactionLister interface {
	ListForAccount(ctx context.Context, accountID uuid.UUID, filters repository.ListFilters, limit, offset int) ([]domain.Transaction, int, error)
}

type debitReserver interface {
	ReserveDebit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, feature, description string) (*domain.Transaction, error)
}

type confirmationCreator interface {
	Create(ctx context.Context, accountID, transactionID, recipientID uuid.UUID, channel domain.ConfirmationChannel) (*domain.Confirmation, error)
}

type Handler struct {
	api           *tgbotapi.BotAPI
	accounts      accountDirectory
	transactions  transactionLister
	ledger        debitReserver
	confirmations confirmationCreator
	webappBaseURL string
	currency      string
	log           *slog.Logger
}

func NewHandler(api *tgbotapi.BotAPI, accounts accountDirectory, transactions transactionLister,
	reserver debitReserver, confirmations confirmationCreator, webappBaseURL, currency string, log *slog.Logger) *Handler {
	return &Handler{
		api:           api,
		accounts:      accounts,
		transactions:  transactions,
		ledger:        reserver,
		confirmations: confirmations,
		webappBaseURL: webappBaseURL,
		currency:      currency,
		log:           log,
	}
}

// Run consumes the long-polling update channel until the context ends.
func (h *Handler) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := h.api.GetUpdatesChan(u)

	h.log.Info("bot started", "username", h.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			h.api.StopReceivingUpdates()
			return
		case upd := <-updates:
			h.handleUpdate(ctx, upd)
		}
	}
}

func (h *Handler) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil || !upd.Message.Chat.IsPrivate() {
		return
	}
	msg := upd.Message
	chatID := msg.Chat.ID

	switch {
	case msg.IsCommand() && msg.Command() == "start":
		h.reply(chatID, fmt.Sprintf("Welcome to GestPay. Link this chat from the app settings using chat id %d, then use /balance, /transactions and /send.", chatID))
	case msg.IsCommand() && msg.Command() == "balance":
		h.handleBalance(ctx, chatID)
	case msg.IsCommand() && msg.Command() == "transactions":
		h.handleTransactions(ctx, chatID)
	case msg.IsCommand() && msg.Command() == "send":
		h.handleSend(ctx, chatID, msg.CommandArguments())
	default:
		h.reply(chatID, "Commands: /balance, /transactions, /send <phone> <amount>")
	}
}

func (h *Handler) handleBalance(ctx context.Context, chatID int64) {
	account, ok := h.linkedAccount(ctx, chatID)
	if !ok {
		return
	}
	h.reply(chatID, fmt.Sprintf("Balance: %s %s", account.Balance.StringFixed(2), h.currency))
}

func (h *Handler) handleTransactions(ctx context.Context, chatID int64) {
	account, ok := h.linkedAccount(ctx, chatID)
	if !ok {
		return
	}

	transactions, _, err := h.transactions.ListForAccount(ctx, account.ID, repository.ListFilters{}, 5, 0)
	if err != nil {
		h.log.Error("bot transaction list failed", "error", err, "chat_id", chatID)
		h.reply(chatID, "Could not fetch your transactions, try again later.")
		return
	}
	if len(transactions) == 0 {
		h.reply(chatID, "No transactions yet.")
		return
	}

	var b strings.Builder
	b.WriteString("Your last transactions:\n")
	for _, t := range transactions {
		sign := "-"
		if t.Direction == domain.DirectionCredit {
			sign = "+"
		}
		fmt.Fprintf(&b, "%s %s%s %s [%s] %s\n",
			t.CreatedAt.Format("02 Jan"), sign, t.Amount.StringFixed(2), h.currency, t.Status, t.Description)
	}
	h.reply(chatID, b.String())
}

func (h *Handler) handleSend(ctx context.Context, chatID int64, args string) {
	account, ok := h.linkedAccount(ctx, chatID)
	if !ok {
		return
	}
	if !account.Flags.TelegramPayments {
		h.reply(chatID, "Telegram payments are disabled for your account. Enable them in the app settings.")
		return
	}
	if !account.Flags.PinSet {
		h.reply(chatID, "Set a transaction PIN in the app before sending money.")
		return
	}

	fields := strings.Fields(args)
	if len(fields) != 2 {
		h.reply(chatID, "Usage: /send <phone> <amount>")
		return
	}
	amount, err := decimal.NewFromString(fields[1])
	if err != nil || domain.ValidateAmount(amount) != nil {
		h.reply(chatID, "That amount doesn't look right. Use something like 1500.00.")
		return
	}

	recipient, err := h.accounts.FindByIdentifier(ctx, fields[0])
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.reply(chatID, "No GestPay account found for that phone number.")
			return
		}
		h.log.Error("bot recipient lookup failed", "error", err, "chat_id", chatID)
		h.reply(chatID, "Something went wrong, try again later.")
		return
	}
	if recipient.ID == account.ID {
		h.reply(chatID, "You can't send money to yourself.")
		return
	}

	reservation, err := h.ledger.ReserveDebit(ctx, account.ID, amount, domain.FeatureTelegramPay,
		"Payment to "+recipient.FullName())
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			h.reply(chatID, "Insufficient balance for that payment.")
			return
		}
		h.log.Error("bot reservation failed", "error", err, "chat_id", chatID)
		h.reply(chatID, "Something went wrong, try again later.")
		return
	}

	confirmation, err := h.confirmations.Create(ctx, account.ID, reservation.ID, recipient.ID, domain.ChannelTelegram)
	if err != nil {
		h.log.Error("bot confirmation create failed", "error", err, "chat_id", chatID)
		h.reply(chatID, "Something went wrong, try again later.")
		return
	}

	h.reply(chatID, fmt.Sprintf(
		"Sending %s %s to %s.\nConfirm with your PIN within %s:\n%s/confirm?token=%s",
		amount.StringFixed(2), h.currency, recipient.FullName(),
		confirmation.ExpiresAt.Sub(confirmation.CreatedAt).String(),
		strings.TrimRight(h.webappBaseURL, "/"), confirmation.Token,
	))
}

func (h *Handler) linkedAccount(ctx context.Context, chatID int64) (*domain.Account, bool) {
	account, err := h.accounts.GetByTelegramChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.reply(chatID, "This chat isn't linked to a GestPay account yet. Link it from the app settings.")
			return nil, false
		}
		h.log.Error("bot account lookup failed", "error", err, "chat_id", chatID)
		h.reply(chatID, "Something went wrong, try again later.")
		return nil, false
	}
	return account, true
}

func (h *Handler) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.api.Send(msg); err != nil {
		h.log.Warn("bot send failed", "error", err, "chat_id", chatID)
	}
}
