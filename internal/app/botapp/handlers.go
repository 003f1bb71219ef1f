package botapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/domain/enums"
	tginfra "github.com/alenakom/speechstar/internal/infra/telegram"
	"github.com/alenakom/speechstar/internal/infra/yookassa"
	redrepo "github.com/alenakom/speechstar/internal/repo/redis"
	deliverysvc "github.com/alenakom/speechstar/internal/services/delivery"
	onboardingsvc "github.com/alenakom/speechstar/internal/services/onboarding"
	paymentssvc "github.com/alenakom/speechstar/internal/services/payments"
	promosvc "github.com/alenakom/speechstar/internal/services/promocode"
)

func (a *App) handleCommand(ctx context.Context, update tginfra.CommandUpdate) error {
	switch strings.ToLower(strings.TrimSpace(update.Command)) {
	case "start":
		return a.handleStart(ctx, update.ChatID, update.UserID)
	default:
		return nil
	}
}

// handleStart shows the two onboarding screens: what the bot does, then
// the trial terms with the age-selection entry point.
func (a *App) handleStart(ctx context.Context, chatID, userID int64) error {
	if _, err := a.subscriberRepo.GetOrCreate(ctx, userID); err != nil {
		return fmt.Errorf("register subscriber: %w", err)
	}

	if err := a.bot.SendText(ctx, chatID, welcomeText); err != nil {
		return err
	}

	return a.bot.SendTextWithButtons(ctx, chatID, trialOfferText, [][]tginfra.Button{
		{{Text: buttonUnderstand, Data: callbackShowAgeSelection}},
		{{Text: buttonPromocode, Data: callbackPromocode}},
	})
}

func (a *App) handleCallback(ctx context.Context, update tginfra.CallbackUpdate) error {
	data := strings.TrimSpace(update.Data)

	if cohortID, ok := strings.CutPrefix(data, callbackAgePrefix); ok {
		return a.handleSelectAge(ctx, update, cohortID)
	}

	switch data {
	case callbackShowAgeSelection:
		if err := a.bot.SendTextWithButtons(ctx, update.ChatID, ageSelectionText, a.ageKeyboard()); err != nil {
			return err
		}
		return a.bot.AnswerCallback(ctx, update.CallbackID, "")
	case callbackGetTask:
		return a.handleGetTask(ctx, update)
	case callbackMainMenu:
		return a.handleMainMenu(ctx, update)
	case callbackMenuChangeAge:
		return a.handleChangeAge(ctx, update)
	case callbackPromocode:
		return a.handlePromocodePrompt(ctx, update)
	case callbackPayMonthly:
		return a.handlePay(ctx, update, enums.TierMonthly, payMonthlyText, "💳 Оплатить 150₽")
	case callbackPayLifetime:
		return a.handlePay(ctx, update, enums.TierLifetime, payLifetimeText, "💎 Оплатить 500₽")
	case callbackCheckPayment:
		return a.handleCheckPayment(ctx, update)
	default:
		return a.bot.AnswerCallback(ctx, update.CallbackID, "")
	}
}

// handleSelectAge sets the cohort and sends the first lesson right away.
// A subscriber who already burned the trial on one cohort cannot hop to
// another without an active paid tier.
func (a *App) handleSelectAge(ctx context.Context, update tginfra.CallbackUpdate, cohortID string) error {
	if !a.knownCohort(cohortID) {
		return a.bot.AnswerCallback(ctx, update.CallbackID, "")
	}
	status, err := a.onboardingService.SelectCohort(ctx, update.UserID, enums.Cohort(cohortID))
	if err != nil {
		if errors.Is(err, redrepo.ErrLockTimeout) {
			return a.bot.SendText(ctx, update.ChatID, tryLaterText)
		}
		return err
	}
	if status == onboardingsvc.StatusAgeLocked {
		if err := a.bot.SendTextWithButtons(ctx, update.ChatID, ageLockedText, paywallKeyboard(false)); err != nil {
			return err
		}
		return a.bot.AnswerCallback(ctx, update.CallbackID, "")
	}

	if err := a.deliverLesson(ctx, update.ChatID, update.UserID); err != nil {
		return err
	}
	return a.bot.AnswerCallback(ctx, update.CallbackID, "")
}

func (a *App) handleGetTask(ctx context.Context, update tginfra.CallbackUpdate) error {
	if err := a.deliverLesson(ctx, update.ChatID, update.UserID); err != nil {
		return err
	}
	return a.bot.AnswerCallback(ctx, update.CallbackID, "")
}

// deliverLesson runs the on-demand delivery path and translates every
// non-delivered outcome into the matching chat reply.
func (a *App) deliverLesson(ctx context.Context, chatID, userID int64) error {
	outcome, err := a.deliveryService.DeliverNow(ctx, userID)
	if err != nil {
		if errors.Is(err, redrepo.ErrLockTimeout) {
			return a.bot.SendText(ctx, chatID, tryLaterText)
		}
		return err
	}

	switch outcome {
	case deliverysvc.OutcomeDelivered:
		return nil
	case deliverysvc.OutcomeNoCohort:
		return a.bot.SendTextWithButtons(ctx, chatID, cohortRequiredText, a.ageKeyboard())
	case deliverysvc.OutcomeTrialEnded, deliverysvc.OutcomeExpired:
		return a.bot.SendTextWithButtons(ctx, chatID, trialEndedText, paywallKeyboard(true))
	case deliverysvc.OutcomeLessonMissing:
		return a.bot.SendText(ctx, chatID, lessonMissingText)
	default:
		return nil
	}
}

func (a *App) handleMainMenu(ctx context.Context, update tginfra.CallbackUpdate) error {
	sub, err := a.subscriberRepo.GetOrCreate(ctx, update.UserID)
	if err != nil {
		return fmt.Errorf("register subscriber: %w", err)
	}

	text := a.mainMenuText(a.cohortLabel(string(sub.Cohort)))
	if err := a.bot.SendTextWithButtons(ctx, update.ChatID, text, mainMenuKeyboard()); err != nil {
		return err
	}
	return a.bot.AnswerCallback(ctx, update.CallbackID, "")
}

func (a *App) handleChangeAge(ctx context.Context, update tginfra.CallbackUpdate) error {
	ok, err := a.onboardingService.CanChangeCohort(ctx, update.UserID)
	if err != nil {
		return err
	}

	if !ok {
		if err := a.bot.SendTextWithButtons(ctx, update.ChatID, ageLockedText, paywallKeyboard(false)); err != nil {
			return err
		}
		return a.bot.AnswerCallback(ctx, update.CallbackID, "")
	}

	text := welcomeText + "\n\n" + ageSelectionText
	if err := a.bot.SendTextWithButtons(ctx, update.ChatID, text, a.ageKeyboard()); err != nil {
		return err
	}
	return a.bot.AnswerCallback(ctx, update.CallbackID, "")
}

// handlePromocodePrompt flips the dialog state so the next plain text
// message is treated as a code.
func (a *App) handlePromocodePrompt(ctx context.Context, update tginfra.CallbackUpdate) error {
	if _, err := a.subscriberRepo.GetOrCreate(ctx, update.UserID); err != nil {
		return fmt.Errorf("register subscriber: %w", err)
	}
	if err := a.subscriberRepo.SetDialogState(ctx, update.UserID, enums.DialogAwaitingPromocode); err != nil {
		return fmt.Errorf("set dialog state: %w", err)
	}

	if err := a.bot.SendText(ctx, update.ChatID, promocodePromptText); err != nil {
		return err
	}
	return a.bot.AnswerCallback(ctx, update.CallbackID, "")
}

func (a *App) handleText(ctx context.Context, update tginfra.TextUpdate) error {
	sub, err := a.subscriberRepo.GetOrCreate(ctx, update.UserID)
	if err != nil {
		return fmt.Errorf("register subscriber: %w", err)
	}
	if sub.DialogState != enums.DialogAwaitingPromocode {
		return nil
	}

	if err := a.subscriberRepo.SetDialogState(ctx, update.UserID, enums.DialogIdle); err != nil {
		return fmt.Errorf("reset dialog state: %w", err)
	}

	result, err := a.promoService.Redeem(ctx, update.UserID, update.Text)
	if err != nil {
		if errors.Is(err, redrepo.ErrLockTimeout) {
			return a.bot.SendText(ctx, update.ChatID, tryLaterText)
		}
		return err
	}

	switch result.Status {
	case promosvc.StatusRedeemed:
		// The first lesson follows from the redemption itself.
		return a.bot.SendText(ctx, update.ChatID, promocodeAcceptedText)
	case promosvc.StatusAlreadySubscribed:
		return a.bot.SendText(ctx, update.ChatID, alreadySubscribedText)
	case promosvc.StatusRateLimited:
		text := fmt.Sprintf("Слишком много попыток. Подождите %d сек. и попробуйте снова.", result.RetryAfterSec)
		return a.bot.SendText(ctx, update.ChatID, text)
	default:
		return a.bot.SendTextWithButtons(ctx, update.ChatID, promocodeRejectedText, paywallKeyboard(true))
	}
}

func (a *App) handlePay(ctx context.Context, update tginfra.CallbackUpdate, tier enums.Tier, text, payLabel string) error {
	if _, err := a.subscriberRepo.GetOrCreate(ctx, update.UserID); err != nil {
		return fmt.Errorf("register subscriber: %w", err)
	}

	payURL, err := a.paymentsService.CreateCharge(ctx, update.UserID, tier)
	if err != nil {
		if errors.Is(err, yookassa.ErrUnavailable) {
			return a.bot.AnswerCallback(ctx, update.CallbackID, paymentsDisabledText)
		}
		if errors.Is(err, redrepo.ErrLockTimeout) {
			return a.bot.AnswerCallback(ctx, update.CallbackID, tryLaterText)
		}
		a.logger.Error("create charge failed",
			zap.Int64("subscriber_id", update.UserID), zap.Error(err))
		return a.bot.AnswerCallback(ctx, update.CallbackID, paymentCreateFailText)
	}

	if err := a.bot.SendTextWithButtons(ctx, update.ChatID, text, paymentKeyboard(payURL, payLabel)); err != nil {
		return err
	}
	return a.bot.AnswerCallback(ctx, update.CallbackID, "")
}

func (a *App) handleCheckPayment(ctx context.Context, update tginfra.CallbackUpdate) error {
	result, err := a.paymentsService.CheckPending(ctx, update.UserID)
	if err != nil {
		if errors.Is(err, yookassa.ErrUnavailable) {
			return a.bot.AnswerCallback(ctx, update.CallbackID, paymentsDisabledText)
		}
		if errors.Is(err, redrepo.ErrLockTimeout) {
			return a.bot.AnswerCallback(ctx, update.CallbackID, tryLaterText)
		}
		return err
	}

	switch result {
	case paymentssvc.ResultApplied:
		// The first lesson follows from the reconcile itself.
		if err := a.bot.SendText(ctx, update.ChatID, paymentAppliedText); err != nil {
			return err
		}
		return a.bot.AnswerCallback(ctx, update.CallbackID, "")
	case paymentssvc.ResultPending:
		return a.bot.AnswerCallback(ctx, update.CallbackID, paymentPendingText)
	case paymentssvc.ResultCanceled:
		return a.bot.AnswerCallback(ctx, update.CallbackID, paymentCanceledText)
	case paymentssvc.ResultUnrecognizedAmount:
		return a.bot.AnswerCallback(ctx, update.CallbackID, paymentUnderReviewText)
	default:
		return a.bot.AnswerCallback(ctx, update.CallbackID, paymentNotFoundText)
	}
}
