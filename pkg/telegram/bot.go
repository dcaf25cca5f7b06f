// Package telegram adapts the conversational services to the Telegram Bot
// API: long-polling update loop, command handling, photo intake and chunked
// Markdown replies.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/config"
	"github.com/edelae/frepi/pkg/llm"
	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/services"
)

// Telegram rejects messages longer than this; longer replies are chunked.
const maxMessageLength = 4096

// maxPhotoBytes caps a single downloaded invoice photo.
const maxPhotoBytes = 10 << 20

// maxPendingPhotos caps how many photos a chat can queue before processing.
const maxPendingPhotos = 20

const welcomeMessage = "👋 Olá! Bem-vindo ao **Frepi**!\n\n" +
	"Sou seu assistente de compras para restaurantes. Posso ajudar você a:\n\n" +
	"1️⃣ **Fazer compras** - encontrar produtos e melhores preços\n" +
	"2️⃣ **Atualizar preços** - registrar cotações de fornecedores\n" +
	"3️⃣ **Gerenciar fornecedores** - cadastrar e atualizar\n" +
	"4️⃣ **Configurar preferências** - personalizar suas compras\n\n" +
	"Digite qualquer mensagem para começar! 🎯"

const helpMessage = "🆘 **Ajuda do Frepi**\n\n" +
	"**Comandos disponíveis:**\n" +
	"/start - Iniciar conversa\n" +
	"/help - Ver esta ajuda\n" +
	"/limpar - Limpar histórico da conversa\n\n" +
	"**Como usar:**\n" +
	"• Digite o que você precisa em linguagem natural\n" +
	"• Exemplo: \"Preciso de 10kg de picanha\"\n" +
	"• Exemplo: \"Quanto custa arroz?\"\n" +
	"• Exemplo: \"Cotação do Friboi: picanha R$ 47/kg\"\n\n" +
	"**Dicas:**\n" +
	"• Seja específico com quantidades e unidades\n" +
	"• Mencione o nome do fornecedor ao atualizar preços\n" +
	"• Use /limpar se quiser recomeçar a conversa"

const clearedMessage = "✅ Histórico limpo! Pode começar uma nova conversa."

const processingErrorMessage = "❌ Desculpe, ocorreu um erro ao processar sua mensagem. " +
	"Por favor, tente novamente."

const supplierOnboardingUnavailable = "Ótimo! 🤝 O cadastro de fornecedores pelo chat ainda " +
	"está em desenvolvimento. Nossa equipe comercial vai entrar em contato em breve."

// Bot bridges Telegram updates to the identity, onboarding and drip
// services. Updates from different chats run in parallel; updates from the
// same chat are serialized.
type Bot struct {
	api        *tgbotapi.BotAPI
	store      services.ConversationStore
	identity   services.IdentityService
	agent      services.OnboardingAgent
	drip       services.DripService
	httpClient *http.Client
	logger     *zap.Logger

	chatLocks sync.Map // chat id -> *sync.Mutex
}

// NewBot connects to the Telegram API and wires the conversational services.
func NewBot(
	cfg config.TelegramConfig,
	store services.ConversationStore,
	identity services.IdentityService,
	agent services.OnboardingAgent,
	drip services.DripService,
	logger *zap.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot api: %w", err)
	}

	logger = logger.Named("telegram-bot")
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))

	return &Bot{
		api:        api,
		store:      store,
		identity:   identity,
		agent:      agent,
		drip:       drip,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// Run starts the long-polling loop and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30

	updates := b.api.GetUpdatesChan(updateCfg)
	b.logger.Info("Telegram bot polling for updates")

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			wg.Wait()
			b.logger.Info("Telegram bot stopped")
			return ctx.Err()

		case update, ok := <-updates:
			if !ok {
				wg.Wait()
				return nil
			}
			if update.Message == nil {
				continue
			}
			wg.Add(1)
			go func(message *tgbotapi.Message) {
				defer wg.Done()
				b.handleMessage(ctx, message)
			}(update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	lock := b.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Panic handling update",
				zap.Int64("chat_id", chatID),
				zap.Any("panic", r))
			b.send(chatID, processingErrorMessage)
		}
	}()

	switch {
	case message.IsCommand():
		b.handleCommand(ctx, message)
	case len(message.Photo) > 0:
		b.handlePhoto(ctx, message)
	case message.Text != "":
		b.handleText(ctx, chatID, message.From, message.Text)
	}
}

// chatLock serializes handling per chat so a fast second message cannot race
// the conversation state of the first.
func (b *Bot) chatLock(chatID int64) *sync.Mutex {
	lock, _ := b.chatLocks.LoadOrStore(chatID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// ============================================================================
// Commands
// ============================================================================

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	switch message.Command() {
	case "start":
		if err := b.store.Clear(ctx, chatID); err != nil {
			b.logger.Warn("Could not clear conversation", zap.Int64("chat_id", chatID), zap.Error(err))
		}
		b.send(chatID, welcomeMessage)

	case "help", "ajuda":
		b.send(chatID, helpMessage)

	case "limpar", "clear":
		if err := b.store.Clear(ctx, chatID); err != nil {
			b.logger.Warn("Could not clear conversation", zap.Int64("chat_id", chatID), zap.Error(err))
		}
		b.send(chatID, clearedMessage)

	default:
		b.send(chatID, "Comando desconhecido. Use /help para ver os comandos disponíveis.")
	}
}

// ============================================================================
// Photos
// ============================================================================

func (b *Bot) handlePhoto(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	b.sendTyping(chatID)

	conversation, err := b.store.Get(ctx, chatID)
	if err != nil {
		b.logger.Error("Could not load conversation", zap.Int64("chat_id", chatID), zap.Error(err))
		b.send(chatID, processingErrorMessage)
		return
	}

	if len(conversation.UploadedPhotos) >= maxPendingPhotos {
		b.send(chatID, fmt.Sprintf(
			"Já recebi %d fotos. Me diga \"pronto\" para eu processar essas antes de enviar mais.",
			len(conversation.UploadedPhotos)))
		return
	}

	// Telegram sends each photo in several resolutions, largest last.
	size := message.Photo[len(message.Photo)-1]
	data, err := b.downloadPhoto(ctx, size.FileID)
	if err != nil {
		b.logger.Error("Could not download photo",
			zap.Int64("chat_id", chatID),
			zap.String("file_id", size.FileID),
			zap.Error(err))
		b.send(chatID, "❌ Não consegui baixar a foto. Pode tentar enviar novamente?")
		return
	}

	conversation.UploadedPhotos = append(conversation.UploadedPhotos, services.UploadedPhoto{
		TelegramFileID: size.FileID,
		Image:          llm.ImageInput{Data: data, MediaType: "image/jpeg"},
	})
	if err := b.store.Save(ctx, conversation); err != nil {
		b.logger.Error("Could not save conversation", zap.Int64("chat_id", chatID), zap.Error(err))
		b.send(chatID, processingErrorMessage)
		return
	}

	b.logger.Info("Photo staged for processing",
		zap.Int64("chat_id", chatID),
		zap.Int("pending_photos", len(conversation.UploadedPhotos)))

	if caption := strings.TrimSpace(message.Caption); caption != "" {
		b.handleText(ctx, chatID, message.From, caption)
		return
	}
	b.send(chatID, fmt.Sprintf(
		"📸 Foto recebida! Total: %d foto(s).\n\nPode enviar mais fotos ou me avisar quando terminar.",
		len(conversation.UploadedPhotos)))
}

func (b *Bot) downloadPhoto(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download photo: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read photo body: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, fmt.Errorf("photo exceeds %d bytes", maxPhotoBytes)
	}
	return data, nil
}

// ============================================================================
// Text Routing
// ============================================================================

func (b *Bot) handleText(ctx context.Context, chatID int64, from *tgbotapi.User, text string) {
	b.sendTyping(chatID)

	conversation, err := b.store.Get(ctx, chatID)
	if err != nil {
		b.logger.Error("Could not load conversation", zap.Int64("chat_id", chatID), zap.Error(err))
		b.send(chatID, processingErrorMessage)
		return
	}
	if conversation.PersonName == "" && from != nil {
		conversation.PersonName = from.FirstName
	}

	reply, err := b.route(ctx, conversation, text)
	if err != nil {
		b.logger.Error("Message processing failed", zap.Int64("chat_id", chatID), zap.Error(err))
		b.send(chatID, processingErrorMessage)
		return
	}

	if err := b.store.Save(ctx, conversation); err != nil {
		b.logger.Error("Could not save conversation", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	b.send(chatID, reply)
}

func (b *Bot) route(ctx context.Context, conversation *services.ConversationContext, text string) (string, error) {
	// An onboarding in flight stays with the agent regardless of identity.
	if conversation.SessionID != nil && !conversation.OnboardingComplete {
		return b.agent.ProcessMessage(ctx, conversation, text)
	}

	identity, err := b.identity.IdentifyUser(ctx, conversation.TelegramChatID)
	if err != nil {
		return "", fmt.Errorf("identify user: %w", err)
	}

	switch identity.UserType {
	case models.UserTypeRestaurant:
		return b.handleRestaurantMessage(ctx, conversation, identity, text)

	case models.UserTypeSupplier:
		name := identity.Name
		if name == "" {
			name = "fornecedor"
		}
		return fmt.Sprintf(
			"Olá, %s! 👋 Por enquanto o atendimento a fornecedores é feito pela nossa "+
				"equipe comercial. Em breve você poderá atualizar cotações por aqui!", name), nil

	default:
		return b.handleNewUserMessage(ctx, conversation, text)
	}
}

func (b *Bot) handleRestaurantMessage(ctx context.Context, conversation *services.ConversationContext, identity *models.UserIdentity, text string) (string, error) {
	conversation.RestaurantID = &identity.RestaurantID
	conversation.OnboardingComplete = true
	if conversation.RestaurantName == "" {
		conversation.RestaurantName = identity.Name
	}

	if reply, handled := b.recordPendingDrip(ctx, conversation, text); handled {
		return reply, nil
	}

	reply, err := b.agent.ProcessMessage(ctx, conversation, text)
	if err != nil {
		return "", err
	}
	return reply + b.dripSuffix(ctx, conversation), nil
}

// handleNewUserMessage runs the role-selection gate for chats with no
// matching restaurant or supplier, then hands restaurant signups to the
// onboarding agent.
func (b *Bot) handleNewUserMessage(ctx context.Context, conversation *services.ConversationContext, text string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))

	switch {
	case normalized == "1" || strings.Contains(normalized, "restaurante"):
		return b.agent.ProcessMessage(ctx, conversation, text)

	case normalized == "2" || strings.Contains(normalized, "fornecedor"):
		return supplierOnboardingUnavailable, nil

	default:
		// History carries the prompt so a later reply of "1" reads naturally
		// to the agent.
		conversation.AddMessage(llm.RoleUser, text)
		conversation.AddMessage(llm.RoleAssistant, services.RoleSelectionMessage)
		return services.RoleSelectionMessage, nil
	}
}

// ============================================================================
// Drip Questions
// ============================================================================

// dripSuffix appends engagement-paced preference questions to a reply and
// remembers the first one so the next message can answer it.
func (b *Bot) dripSuffix(ctx context.Context, conversation *services.ConversationContext) string {
	if conversation.RestaurantID == nil {
		return ""
	}
	questions, err := b.drip.GetDripQuestions(ctx, *conversation.RestaurantID)
	if err != nil {
		b.logger.Warn("Could not fetch drip questions",
			zap.Int64("restaurant_id", *conversation.RestaurantID),
			zap.Error(err))
		return ""
	}
	if len(questions) == 0 {
		return ""
	}

	itemID := questions[0].QueueItemID
	conversation.PendingDripItemID = &itemID
	conversation.PendingDripType = string(questions[0].PreferenceType)

	return b.drip.FormatDripQuestions(questions)
}

// recordPendingDrip interprets a reply that directly follows a drip
// question. Short declarative replies are stored as the answer, explicit
// skips are recorded, anything else clears the pending state and flows to
// the agent unharmed.
func (b *Bot) recordPendingDrip(ctx context.Context, conversation *services.ConversationContext, text string) (string, bool) {
	if conversation.PendingDripItemID == nil || conversation.RestaurantID == nil {
		return "", false
	}
	itemID := *conversation.PendingDripItemID
	prefType := models.PreferenceType(conversation.PendingDripType)
	conversation.PendingDripItemID = nil
	conversation.PendingDripType = ""

	trimmed := strings.TrimSpace(text)
	normalized := strings.ToLower(trimmed)

	switch {
	case normalized == "pular" || normalized == "não sei" || normalized == "nao sei" || normalized == "tanto faz":
		if err := b.drip.RecordDripResponse(ctx, *conversation.RestaurantID, itemID, prefType, "", true); err != nil {
			b.logger.Warn("Could not record drip skip", zap.Int64("queue_item", itemID), zap.Error(err))
			return "", false
		}
		return "Sem problema! 👍 Em que mais posso ajudar?", true

	case len([]rune(trimmed)) <= 80 && !strings.Contains(trimmed, "?"):
		if err := b.drip.RecordDripResponse(ctx, *conversation.RestaurantID, itemID, prefType, trimmed, false); err != nil {
			b.logger.Warn("Could not record drip answer", zap.Int64("queue_item", itemID), zap.Error(err))
			return "", false
		}
		return "Anotado, obrigado! 👍 Isso me ajuda a achar as melhores ofertas para você.", true

	default:
		// The user moved on to something else; the question stays asked and
		// is not repeated.
		return "", false
	}
}

// ============================================================================
// Outbound
// ============================================================================

// Notify delivers a proactive heartbeat message to a chat.
func (b *Bot) Notify(chatID int64, message string) {
	b.send(chatID, message)
}

func (b *Bot) sendTyping(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := b.api.Request(action); err != nil {
		b.logger.Debug("Could not send typing action", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// send delivers a reply, chunking at Telegram's message limit. Markdown that
// Telegram rejects is retried as plain text.
func (b *Bot) send(chatID int64, text string) {
	for _, chunk := range chunkMessage(text, maxMessageLength) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := b.api.Send(msg); err != nil {
			plain := tgbotapi.NewMessage(chatID, chunk)
			if _, err := b.api.Send(plain); err != nil {
				b.logger.Error("Could not send message", zap.Int64("chat_id", chatID), zap.Error(err))
			}
		}
	}
}

// chunkMessage splits text into rune-safe pieces of at most limit runes,
// preferring to break at a newline.
func chunkMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}
