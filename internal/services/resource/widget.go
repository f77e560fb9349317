package resource

import (
	"strings"

	"github.com/hokkyo/monban/internal/entities"
)

// Widget governs dashboard and frontend widgets for an access level.
// Keys are lower-cased on load.
type Widget struct {
	base
}

func newWidgetResource(registry *Registry, level entities.AccessLevel, resourceID string) Resource {
	w := &Widget{}
	w.base = base{registry: registry, rtype: entities.ResourceWidget, id: resourceID, level: level}
	w.base.normalize = lowercaseKeys
	return w
}

// IsHidden reports whether the widget is hidden in the given area.
// An empty area means "hidden anywhere the entry applies".
func (w *Widget) IsHidden(widgetID string, area entities.Area) bool {
	return w.denied(strings.ToLower(widgetID), area)
}
