package domain

import "errors"

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput возвращается при некорректных входных данных
	ErrInvalidInput = errors.New("invalid input")

	// ErrBrokerAPI возвращается при ошибке API брокера
	ErrBrokerAPI = errors.New("broker API error")

	// ErrNotConnected возвращается при обращении к брокеру без активной сессии
	ErrNotConnected = errors.New("broker not connected")

	// ErrMarketClosed возвращается когда актив недоступен для торговли
	ErrMarketClosed = errors.New("asset market closed")

	// ErrDuplicateSettlement возвращается при повторном событии расчёта
	// по уже финализированной сделке
	ErrDuplicateSettlement = errors.New("duplicate settlement")

	// ErrStateCorrupted сигнализирует нарушение инварианта риск-состояния.
	// Фатально для сессии: счётчики больше нельзя считать достоверными.
	ErrStateCorrupted = errors.New("risk state corrupted")
)
