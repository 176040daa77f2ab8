// Package sandbox содержит клиент сервиса изолированного выполнения
// пользовательского кода для code шагов.
package sandbox
