package botapp

import (
	"fmt"

	tginfra "github.com/alenakom/speechstar/internal/infra/telegram"
)

const (
	callbackShowAgeSelection = "show_age_selection"
	callbackAgePrefix        = "age_"
	callbackGetTask          = "get_task"
	callbackMainMenu         = "main_menu"
	callbackMenuChangeAge    = "menu_change_age"
	callbackPromocode        = "promocode"
	callbackPayMonthly       = "pay_monthly"
	callbackPayLifetime      = "pay_lifetime"
	callbackCheckPayment     = "check_payment"

	buttonMenu         = "📋 Меню"
	buttonGetTask      = "📋 Получить задание"
	buttonChangeAge    = "👶 Изменить возраст"
	buttonUnderstand   = "Понимаю 🤝"
	buttonPromocode    = "🎟️ Промокод"
	buttonPayMonthly   = "💳 Подписка на месяц (150 ₽)"
	buttonPayLifetime  = "💎 Доступ навсегда (500 ₽)"
	buttonCheckPayment = "❓ Проверить оплату"
	buttonBack         = "🔄 Назад"

	welcomeText = `Больше не нужно ничего искать.
Просто открываешь Telegram — и каждый день получаешь готовое задание.

👶 Формат: 5 мини-упражнений — сенсорика, речь, движение, эмоции и тактильность
🧺 Без развивающих девайсов — всё из подручных средств`

	trialOfferText = `🎉 Первые 7 дней — совершенно бесплатно. Пробуй, играй, смотри, как реагирует малыш.

Дальше будет два варианта оплаты:
• 150 ₽ в месяц
• или 500 ₽ — один раз и навсегда (на выбранный возраст)

Эта оплата помогает мне поддерживать бот и добавлять новые задания 🙌

ℹ️ Обратите внимание: пробный период доступен только для одного возраста.
После его выбора изменить возраст можно будет только с платной подпиской.`

	ageSelectionText = `Выбирай возраст, и я пришлю первое занятие 💛`

	cohortRequiredText = "Сначала нужно выбрать возраст малыша 👶"

	trialEndedText = `Пробный период закончился. Чтобы продолжить — выберите вариант подписки.`

	ageLockedText = `🔒 Пробный период уже использован на выбранный ранее возраст.
Чтобы получить доступ к материалам другого возраста, пожалуйста,
оформите подписку:
– Подписка на месяц (150 ₽)
– Доступ навсегда (500 ₽)`

	promocodePromptText   = "🎟️ Введите промокод:"
	promocodeAcceptedText = "🎉 Промокод принят! У вас теперь бесплатный доступ навсегда!"
	promocodeRejectedText = "❌ Промокод не найден. Попробуйте еще раз или выберите другой способ оплаты."
	alreadySubscribedText = "У вас уже есть активная подписка 🙌"

	payMonthlyText = `💳 Месячная подписка - 150₽

Нажмите кнопку ниже для оплаты. После успешной оплаты вам откроется доступ к заданиям на месяц.

После оплаты нажмите "Проверить оплату".`

	payLifetimeText = `💎 Пожизненный доступ - 500₽

Нажмите кнопку ниже для оплаты. После успешной оплаты вам откроется постоянный доступ к заданиям для выбранного возраста.

После оплаты нажмите "Проверить оплату".`

	paymentsDisabledText   = "💳 Платежи временно недоступны. Попробуйте позже или свяжитесь с поддержкой."
	paymentCreateFailText  = "❌ Ошибка создания платежа. Попробуйте позже."
	paymentAppliedText     = "🎉 Оплата прошла успешно! Подписка активирована."
	paymentPendingText     = "⏳ Платеж еще обрабатывается. Проверьте позже."
	paymentCanceledText    = "❌ Платеж отменен. Попробуйте еще раз."
	paymentNotFoundText    = "❌ Активный платеж не найден."
	paymentUnderReviewText = "⚠️ Оплата получена и передана оператору на проверку."
	lessonMissingText      = "❌ Задание на сегодня не нашлось, мы уже разбираемся. Загляни позже 🙏"
	tryLaterText           = "Слишком много запросов, попробуйте чуть позже."
)

func (a *App) mainMenuText(cohortLabel string) string {
	if cohortLabel == "" {
		cohortLabel = "Не выбран"
	}
	return fmt.Sprintf("🏠 Главное меню\n\nВозраст: %s\n\nВыберите действие:", cohortLabel)
}

func (a *App) cohortLabel(id string) string {
	for _, c := range a.cfg.Cohorts {
		if c.ID == id {
			return c.Label
		}
	}
	return ""
}

func (a *App) knownCohort(id string) bool {
	for _, c := range a.cfg.Cohorts {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (a *App) ageKeyboard() [][]tginfra.Button {
	rows := make([][]tginfra.Button, 0, len(a.cfg.Cohorts))
	for _, c := range a.cfg.Cohorts {
		rows = append(rows, []tginfra.Button{{
			Text: "👶 " + c.Label,
			Data: callbackAgePrefix + c.ID,
		}})
	}
	return rows
}

func paywallKeyboard(withPromocode bool) [][]tginfra.Button {
	rows := [][]tginfra.Button{
		{{Text: buttonPayMonthly, Data: callbackPayMonthly}},
		{{Text: buttonPayLifetime, Data: callbackPayLifetime}},
	}
	if withPromocode {
		rows = append(rows, []tginfra.Button{{Text: buttonPromocode, Data: callbackPromocode}})
	}
	return rows
}

func mainMenuKeyboard() [][]tginfra.Button {
	return [][]tginfra.Button{
		{{Text: buttonGetTask, Data: callbackGetTask}},
		{{Text: buttonChangeAge, Data: callbackMenuChangeAge}},
	}
}

func paymentKeyboard(payURL, payLabel string) [][]tginfra.Button {
	return [][]tginfra.Button{
		{{Text: payLabel, URL: payURL}},
		{{Text: buttonCheckPayment, Data: callbackCheckPayment}},
		{{Text: buttonBack, Data: callbackMainMenu}},
	}
}
