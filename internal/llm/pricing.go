package llm

import "strings"

// modelPrice — цена за 1M токенов в долларах.
type modelPrice struct {
	Prompt     float64
	Completion float64
}

// pricing — таблица цен по префиксу модели.
// Более специфичные префиксы должны стоять раньше при поиске,
// поэтому поиск идёт по убыванию длины префикса.
var pricing = map[string]modelPrice{
	"gpt-4o-mini": {Prompt: 0.15, Completion: 0.60},
	"gpt-4o":      {Prompt: 2.50, Completion: 10.00},
	"gpt-4.1":     {Prompt: 2.00, Completion: 8.00},
	"o3-mini":     {Prompt: 1.10, Completion: 4.40},
	"o3":          {Prompt: 2.00, Completion: 8.00},
}

// defaultPrice — цена для неизвестной модели.
var defaultPrice = modelPrice{Prompt: 1.00, Completion: 3.00}

// EstimateCost возвращает стоимость вызова модели в долларах.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	price := priceFor(model)
	return float64(promptTokens)/1_000_000*price.Prompt +
		float64(completionTokens)/1_000_000*price.Completion
}

// priceFor находит цену по самому длинному совпавшему префиксу.
func priceFor(model string) modelPrice {
	best := ""
	for prefix := range pricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultPrice
	}
	return pricing[best]
}
