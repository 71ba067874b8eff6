package worker

import "regexp"

// User-facing texts. The bot speaks to end users of the channel, so these
// stay in the product's language.
const (
	replySubscribePrompt   = "📩 Привет! Хочешь подписаться на рассылку?\nУзнать другие команды /help"
	replyAlreadyPrompt     = "🔔 Вы уже подписаны на рассылку.\nХотите отписаться?"
	replySubscribed        = "🎉 Вы успешно подписаны на рассылку!"
	replyAlreadySubscribed = "🔔 Вы уже подписаны."
	replyDeclined          = "❌ Подписка отменена."
	replyUnsubscribed      = "🗑️ Вы отписались от рассылки."
	replyNeverSubscribed   = "⚠️ Вы не были подписаны."

	replyHelp = "🤖 Команды:\n/start — Подписка / отписка\n/ask — Спросить Chat-GPT\n/help — Помощь"

	replyAskEmpty  = "✏️ Пожалуйста, введите вопрос после команды /ask."
	replyAskFailed = "⚠️ Не удалось получить ответ от ChatGPT. Попробуй позже."

	replyGreeting = "Привет! 👋 Если хочешь подписаться на рассылку, напиши /start 📬. Если хочешь узнать ответ на свой вопрос от Chat-GPT напиши /ask"
	replyUnknown  = "🤖 Я тебя понял, но не уверен, что именно ты хочешь.\nНапиши <b>/help</b>, чтобы узнать доступные команды."

	replyInternalError = "⚠️ Внутренняя ошибка. Попробуйте позже."
	replyActionError   = "⚠️ Ошибка при обработке действия. Попробуйте позже."
)

// Button actions carried in callback data.
const (
	actionSubscribeYes = "subscribe_yes"
	actionSubscribeNo  = "subscribe_no"
	actionUnsubscribe  = "unsubscribe"
)

const (
	buttonYes         = "✅ Да"
	buttonNo          = "❌ Нет"
	buttonUnsubscribe = "🚫 Отписаться"
)

var greetingRe = regexp.MustCompile(`(?i)(^|[^\p{L}])(привет|hello)($|[^\p{L}])`)

// isGreeting reports whether the text contains a standalone greeting word.
func isGreeting(text string) bool {
	return greetingRe.MatchString(text)
}
