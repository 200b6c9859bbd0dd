package domain

import "strings"

// ResourceType — тег ресурса, по которому диспетчер выбирает исполнителя.
// Набор открытый: новые типы добавляются регистрацией исполнителя.
type ResourceType string

const (
	ResourcePod        ResourceType = "pod"
	ResourceDeployment ResourceType = "deployment"
	ResourceInstance   ResourceType = "instance"
)

// Normalize — единственное правило сравнения типов ресурсов во всём шлюзе
// (диспетчеризация, отображение, метки метрик): trim + lower-case.
func (t ResourceType) Normalize() ResourceType {
	return ResourceType(strings.ToLower(strings.TrimSpace(string(t))))
}

func (t ResourceType) String() string { return string(t) }

// PendingCommand — отложенное действие, которое путешествует через Slack
// внутри значения кнопки и возвращается к нам в колбэке администратора.
type PendingCommand struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceName string       `json:"resource_name"`
	// Namespace для ресурсов без пространства имён (EC2) трактуется как регион.
	Namespace   string `json:"namespace"`
	ActionLabel string `json:"action_label"` // Только для отображения и аудита
}

// Target возвращает "type/name" для сообщений и логов.
func (c PendingCommand) Target() string {
	return string(c.ResourceType) + "/" + c.ResourceName
}
