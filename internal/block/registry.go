package block

import "fmt"

var registry = make(map[Type]*Spec)

// Register добавляет запись типа в каталог
func Register(s *Spec) {
	registry[s.Type] = s
}

// Get возвращает запись каталога для типа
func Get(t Type) (*Spec, bool) {
	s, ok := registry[t]
	return s, ok
}

// MustGet возвращает запись каталога или паникует для типа вне каталога
func MustGet(t Type) *Spec {
	s, ok := registry[t]
	if !ok {
		panic(fmt.Sprintf("block: %v is not registered", t))
	}
	return s
}

// IsValid проверяет, зарегистрирован ли тип
func IsValid(t Type) bool {
	_, ok := registry[t]
	return ok
}
