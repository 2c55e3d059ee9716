package signal

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kirillm/qx-signal-bot/internal/domain"
)

// Rejection описывает причину, по которой сообщение не стало сигналом
type Rejection struct {
	Reason string // domain.Reject*
	Detail string
}

// recognizer представляет один формат сигнала. Распознаватели пробуются
// строго по порядку; побеждает первый, извлёкший актив и направление,
// частичные извлечения разных форматов не объединяются.
type recognizer struct {
	name      string
	baseScore int
	re        *regexp.Regexp
}

// Parser извлекает торговые сигналы из произвольного текста.
// Чистая функция от входа и статической таблицы паттернов: никаких
// побочных эффектов, состояние не накапливается.
type Parser struct {
	allowed         map[string]bool
	minConfidence   int
	defaultDuration int
	recognizers     []recognizer
}

const (
	bonusAmount    = 5
	bonusDuration  = 5
	bonusStrongDir = 5
)

// Сильные ключевые слова направления: явное указание, а не эмодзи или сленг
var strongDirections = map[string]bool{
	"CALL": true, "PUT": true, "UP": true, "DOWN": true, "BUY": true, "SELL": true,
}

var directionUp = map[string]bool{
	"CALL": true, "BUY": true, "UP": true, "HIGHER": true, "BULLISH": true,
	"📈": true, "🟢": true, "⬆️": true, "⬆": true,
}

var directionDown = map[string]bool{
	"PUT": true, "SELL": true, "DOWN": true, "LOWER": true, "BEARISH": true,
	"📉": true, "🔴": true, "⬇️": true, "⬇": true,
}

// Алиасы инструментов в том виде, как они встречаются в сообщениях
var assetAliases = map[string]string{
	"EUR/USD": "EURUSD",
	"GBP/USD": "GBPUSD",
	"USD/JPY": "USDJPY",
	"AUD/USD": "AUDUSD",
	"USD/CAD": "USDCAD",
	"EUR/GBP": "EURGBP",
	"EUR/JPY": "EURJPY",
	"GBP/JPY": "GBPJPY",
}

// Таймфреймы вида "5m"/"1h" в секундах
var timeframeSeconds = map[string]int{
	"1M": 60, "2M": 120, "3M": 180, "5M": 300,
	"10M": 600, "15M": 900, "30M": 1800, "1H": 3600,
}

var confidenceRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)confidence[:\s]+(\d{1,3})`),
	regexp.MustCompile(`(?i)accuracy[:\s]+(\d{1,3})`),
	regexp.MustCompile(`(?i)win\s*rate[:\s]+(\d{1,3})`),
	regexp.MustCompile(`(\d{1,3})\s*%`),
}

var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// NewParser создает парсер для набора разрешённых активов
func NewParser(allowedAssets []string, minConfidence, defaultDuration int) *Parser {
	allowed := make(map[string]bool, len(allowedAssets))
	for _, a := range allowedAssets {
		allowed[strings.TrimSpace(a)] = true
	}

	return &Parser{
		allowed:         allowed,
		minConfidence:   minConfidence,
		defaultDuration: defaultDuration,
		recognizers: []recognizer{
			// Структурированный формат:
			// "Asset: EURUSD\nDirection: CALL\nAmount: $10\nDuration: 5M"
			{
				name:      "structured",
				baseScore: 90,
				re: regexp.MustCompile(
					`(?is)Asset:\s*(?P<asset>[A-Z]{6})\s*` +
						`Direction:\s*(?P<direction>CALL|PUT|BUY|SELL|UP|DOWN)\s*` +
						`(?:Amount:\s*\$?(?P<amount>\d+(?:\.\d+)?)\s*)?` +
						`(?:Duration:\s*(?P<duration>\d+\s*[MH]?))?`),
			},
			// Отложенный вход: "EURUSD CALL at 14:30 for 5 minutes".
			// Проверяется раньше стандартного формата, иначе тот перехватит
			// пару актив+направление и время входа потеряется
			{
				name:      "timed",
				baseScore: 80,
				re: regexp.MustCompile(
					`(?i)\b(?P<asset>[A-Z]{6})\s+(?P<direction>CALL|PUT|BUY|SELL|UP|DOWN)\s+` +
						`at\s+(?P<time>\d{1,2}:\d{2})\s*` +
						`(?:for\s+(?P<duration>\d+\s*(?:M|MIN|MINS|MINUTES?|H|HOURS?)?))?`),
			},
			// Стандартный формат: "EURUSD CALL $10 5M".
			// Сумма и длительность необязательны, отсутствующие поля
			// получают значения по умолчанию
			{
				name:      "standard",
				baseScore: 80,
				re: regexp.MustCompile(
					`(?i)\b(?P<asset>[A-Z]{6})\s+(?P<direction>CALL|PUT|BUY|SELL|UP|DOWN|HIGHER|LOWER|BULLISH|BEARISH)\b` +
						`(?:\s+\$?(?P<amount>\d+(?:\.\d+)?))?` +
						`(?:\s+(?P<duration>\d+\s*(?:M|MIN|MINS|MINUTES?|H|HOURS?|S|SEC|SECS|SECONDS?)?))?\b`),
			},
			// Эмодзи-формат: "EURUSD 📈 5M"
			{
				name:      "emoji",
				baseScore: 75,
				re: regexp.MustCompile(
					`(?i)\b(?P<asset>[A-Z]{6})\s*(?P<direction>📈|📉|🟢|🔴|⬆️|⬇️|⬆|⬇)\s*` +
						`(?:\$?(?P<amount>\d+(?:\.\d+)?)\s+)?` +
						`(?:(?P<duration>\d+\s*(?:M|MIN|MINS|MINUTES?|H|HOURS?)?))?`),
			},
		},
	}
}

// Parse разбирает сырой текст сообщения. Возвращает сигнал либо причину
// отказа; частично заполненный сигнал не возвращается никогда.
func (p *Parser) Parse(rawText string, receivedAt time.Time) (*domain.Signal, *Rejection) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return nil, &Rejection{Reason: domain.RejectUnparseable, Detail: "empty message"}
	}

	for _, rec := range p.recognizers {
		match := rec.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}

		groups := namedGroups(rec.re, match)
		sig, rej := p.buildSignal(rec, groups, text, receivedAt)
		if rej != nil {
			return nil, rej
		}
		if sig != nil {
			return p.checkConfidence(sig)
		}
		// Распознаватель совпал, но не дал актив+направление - пробуем следующий
	}

	// Фолбэк: поиск по ключевым словам
	if sig := p.parseKeyword(text, receivedAt); sig != nil {
		if !p.assetAllowed(sig.Asset) {
			return nil, &Rejection{Reason: domain.RejectUnsupportedAsset, Detail: sig.Asset}
		}
		sig.Asset = p.normalizeAsset(sig.Asset)
		return p.checkConfidence(sig)
	}

	return nil, &Rejection{Reason: domain.RejectUnparseable, Detail: "no recognizer matched"}
}

// buildSignal собирает сигнал из совпадения одного распознавателя
func (p *Parser) buildSignal(rec recognizer, groups map[string]string, text string, receivedAt time.Time) (*domain.Signal, *Rejection) {
	asset := canonicalAsset(groups["asset"])
	direction := parseDirection(groups["direction"])
	if asset == "" || direction == "" {
		return nil, nil
	}

	if !p.assetAllowed(asset) {
		return nil, &Rejection{Reason: domain.RejectUnsupportedAsset, Detail: asset}
	}

	score := rec.baseScore

	amount := 0.0
	if a := groups["amount"]; a != "" {
		amount, _ = strconv.ParseFloat(a, 64)
		score += bonusAmount
	}

	duration := p.defaultDuration
	if d := groups["duration"]; d != "" {
		if parsed := parseDuration(d); parsed > 0 {
			duration = parsed
			score += bonusDuration
		}
	}

	if strongDirections[strings.ToUpper(groups["direction"])] {
		score += bonusStrongDir
	}

	if explicit, ok := extractConfidence(text); ok {
		score = explicit
	}

	var entryTime time.Time
	if t := groups["time"]; t != "" {
		entryTime = parseEntryTime(t, receivedAt)
	}

	return &domain.Signal{
		ID:              domain.NewID(),
		Asset:           p.normalizeAsset(asset),
		Direction:       direction,
		RequestedAmount: amount,
		Duration:        duration,
		EntryTime:       entryTime,
		Confidence:      clampScore(score),
		RawText:         text,
		Source:          domain.SourceTelegram,
		ReceivedAt:      receivedAt,
	}, nil
}

// parseKeyword ищет сигнал без жёсткого формата: разрешённый актив
// где-то в тексте плюс ключевое слово направления
func (p *Parser) parseKeyword(text string, receivedAt time.Time) *domain.Signal {
	upper := strings.ToUpper(text)

	var asset string
	for allowed := range p.allowed {
		plain := strings.TrimSuffix(allowed, "_otc")
		if strings.Contains(upper, plain) {
			asset = plain
			break
		}
	}
	for alias, canonical := range assetAliases {
		if asset != "" {
			break
		}
		if strings.Contains(upper, alias) {
			asset = canonical
		}
	}
	if asset == "" {
		return nil
	}

	direction := ""
	strong := false
	for _, word := range strings.FieldsFunc(upper, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == ',' || r == '!' || r == '.'
	}) {
		if d := parseDirection(word); d != "" {
			direction = d
			strong = strongDirections[word]
			break
		}
	}
	if direction == "" {
		for emoji := range directionUp {
			if emoji[0] >= 0x80 && strings.Contains(text, emoji) {
				direction = domain.DirectionUp
				break
			}
		}
	}
	if direction == "" {
		for emoji := range directionDown {
			if emoji[0] >= 0x80 && strings.Contains(text, emoji) {
				direction = domain.DirectionDown
				break
			}
		}
	}
	if direction == "" {
		return nil
	}

	score := 65
	amount := 0.0
	duration := p.defaultDuration

	// Эвристика из оригинальной системы: маленькие числа - минуты,
	// большие - секунды, остальное - сумма
	for _, numStr := range numberRe.FindAllString(text, -1) {
		num, _ := strconv.ParseFloat(numStr, 64)
		switch {
		case num >= 60 && num <= 3600 && num == float64(int(num)) && amount != 0:
			duration = int(num)
			score += bonusDuration
		case num >= 1 && num <= 1000 && amount == 0:
			amount = num
			score += bonusAmount
		case num >= 1 && num < 60 && num == float64(int(num)):
			duration = int(num) * 60
			score += bonusDuration
		}
	}

	if strong {
		score += bonusStrongDir
	}
	if explicit, ok := extractConfidence(text); ok {
		score = explicit
	}

	return &domain.Signal{
		ID:              domain.NewID(),
		Asset:           asset,
		Direction:       direction,
		RequestedAmount: amount,
		Duration:        duration,
		Confidence:      clampScore(score),
		RawText:         text,
		Source:          domain.SourceTelegram,
		ReceivedAt:      receivedAt,
	}
}

func (p *Parser) checkConfidence(sig *domain.Signal) (*domain.Signal, *Rejection) {
	if sig.Confidence < p.minConfidence {
		return nil, &Rejection{
			Reason: domain.RejectLowConfidence,
			Detail: strconv.Itoa(sig.Confidence),
		}
	}
	return sig, nil
}

// assetAllowed проверяет актив с учётом OTC-варианта
func (p *Parser) assetAllowed(asset string) bool {
	return p.allowed[asset] || p.allowed[asset+"_otc"]
}

// normalizeAsset возвращает символ в том виде, в каком его знает брокер:
// OTC-суффикс добавляется только если обычная пара недоступна
func (p *Parser) normalizeAsset(asset string) string {
	if p.allowed[asset] {
		return asset
	}
	if p.allowed[asset+"_otc"] {
		return asset + "_otc"
	}
	return asset
}

// canonicalAsset приводит символ к верхнему регистру и снимает алиасы
func canonicalAsset(raw string) string {
	asset := strings.ToUpper(strings.TrimSpace(raw))
	if mapped, ok := assetAliases[asset]; ok {
		return mapped
	}
	return asset
}

func parseDirection(raw string) string {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if directionUp[key] || directionUp[raw] {
		return domain.DirectionUp
	}
	if directionDown[key] || directionDown[raw] {
		return domain.DirectionDown
	}
	return ""
}

// parseDuration переводит запись длительности в секунды.
// Поддерживаются "5M", "1H", "5 minutes", коды таймфреймов и голые числа
// (больше 60 - секунды, иначе минуты)
func parseDuration(raw string) int {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if s == "" {
		return 0
	}

	if sec, ok := timeframeSeconds[s]; ok {
		return sec
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0
	}
	num, _ := strconv.Atoi(s[:i])
	unit := s[i:]

	switch {
	case unit == "" && num > 60:
		return num // уже секунды
	case unit == "" || strings.HasPrefix(unit, "M"):
		return num * 60
	case strings.HasPrefix(unit, "H"):
		return num * 3600
	case strings.HasPrefix(unit, "S"):
		return num
	}
	return 0
}

// parseEntryTime переводит "HH:MM" в ближайший момент этого времени:
// сегодня, либо завтра если время уже прошло
func parseEntryTime(raw string, now time.Time) time.Time {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return time.Time{}
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour > 23 || minute > 59 {
		return time.Time{}
	}

	entry := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !entry.After(now) {
		entry = entry.AddDate(0, 0, 1)
	}
	return entry
}

// extractConfidence ищет явное указание уверенности в тексте
func extractConfidence(text string) (int, bool) {
	for _, re := range confidenceRes {
		if m := re.FindStringSubmatch(text); m != nil {
			val, err := strconv.Atoi(m[1])
			if err == nil && val >= 0 && val <= 100 {
				return val, true
			}
		}
	}
	return 0, false
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func namedGroups(re *regexp.Regexp, match []string) map[string]string {
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(match) {
			groups[name] = match[i]
		}
	}
	return groups
}
