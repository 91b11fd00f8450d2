package agent

import (
	"context"
	"strings"

	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// expertiseBasePrompt is the fallback persona when no sub-domain matches.
const expertiseBasePrompt = "Ты — эксперт-консультант. Отвечай обстоятельно и " +
	"профессионально: термины поясняй, рекомендации обосновывай, ограничения " +
	"своих выводов называй явно."

// expertDomain flavors the expertise agent's persona for one subject area.
type expertDomain struct {
	name     string
	keywords []string
	prompt   string
}

// expertDomains is scanned in order; the domain with the most keyword hits
// wins. Ties keep the earlier entry.
var expertDomains = []expertDomain{
	{
		name: "software",
		keywords: []string{"программ", "разработ", "архитектур", "сервер",
			"база данных", "devops", "код", "software", "backend"},
		prompt: "Ты — ведущий инженер-программист с многолетним опытом " +
			"проектирования распределённых систем. Давай практичные советы: " +
			"компромиссы, типичные грабли, рабочие примеры. Отвечай как коллеге.",
	},
	{
		name: "finance",
		keywords: []string{"финанс", "инвести", "налог", "бюджет", "кредит",
			"акци", "вклад", "ипотек", "finance", "invest"},
		prompt: "Ты — финансовый консультант. Объясняй финансовые вопросы " +
			"простым языком, показывай расчёты, называй риски. Обязательно " +
			"уточняй, что это не индивидуальная инвестиционная рекомендация.",
	},
	{
		name: "health",
		keywords: []string{"здоров", "болезн", "симптом", "лечени", "врач",
			"лекарств", "диет", "health", "medical"},
		prompt: "Ты — медицинский консультант-просветитель. Давай общую " +
			"проверенную информацию о здоровье и настойчиво советуй очную " +
			"консультацию врача для любых решений о лечении. Никаких диагнозов.",
	},
	{
		name: "legal",
		keywords: []string{"юрид", "закон", "договор", "прав", "суд", "штраф",
			"иск", "legal", "contract"},
		prompt: "Ты — юридический консультант-просветитель. Объясняй общие " +
			"правовые принципы и формулировки, отмечай, что нормы зависят от " +
			"юрисдикции, и рекомендуй профильного юриста для конкретных дел.",
	},
	{
		name: "science",
		keywords: []string{"физик", "хими", "биолог", "математик", "наук",
			"теорем", "эксперимент", "science", "physics"},
		prompt: "Ты — учёный-популяризатор. Объясняй научные вопросы строго, " +
			"но доступно: от интуиции к формальностям, с примерами и границами " +
			"применимости теорий.",
	},
}

// ExpertiseAgent answers with a domain-expert persona, choosing the
// sub-domain from the message keywords at processing time.
type ExpertiseAgent struct {
	*BaseAgent
}

// NewExpertiseAgent creates the domain-expert agent.
func NewExpertiseAgent(provider llm.Provider) *ExpertiseAgent {
	base := NewBaseAgent(models.AgentTypeExpertise, expertiseBasePrompt, provider,
		"как эксперт", "профессиональн", "консультаци", "совет", "рекоменд",
		"опытный", "expert advice", "best practice")
	base.BaseConfidence = 0.2
	// Domain keyword hits count toward confidence so expertise outbids the
	// generic responder on clearly professional questions.
	base.CustomConfidence = func(message string, _ map[string]any) float64 {
		if _, hits := matchDomain(message); hits > 0 {
			return 0.15
		}
		return 0
	}
	return &ExpertiseAgent{BaseAgent: base}
}

// Process answers with the persona of the best-matching sub-domain.
func (a *ExpertiseAgent) Process(ctx context.Context, message string, turnCtx map[string]any, history []models.Message) (*models.AgentResult, error) {
	prompt := a.systemPrompt
	domainName := "general"
	if domain, hits := matchDomain(message); hits > 0 {
		prompt = domain.prompt
		domainName = domain.name
	}

	result, err := a.respond(ctx, prompt, message, turnCtx, history)
	if err != nil {
		return nil, err
	}
	result.SetMeta("expert_domain", domainName)
	return result, nil
}

// matchDomain returns the sub-domain with the most keyword hits in the
// message and the hit count; zero hits means no domain matched.
func matchDomain(message string) (expertDomain, int) {
	lower := strings.ToLower(message)
	var (
		best     expertDomain
		bestHits int
	)
	for _, domain := range expertDomains {
		hits := 0
		for _, keyword := range domain.keywords {
			if strings.Contains(lower, keyword) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = domain, hits
		}
	}
	return best, bestHits
}
