package mqtt

import (
	"fmt"

	"github.com/daemonp/aap2mqtt/internal/util"
)

type Topics struct {
	prefix string
}

func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

func (t *Topics) Status() string {
	return fmt.Sprintf("%s/status", t.prefix)
}

// Panel carries the state of the link to the alarm panel.
func (t *Topics) Panel() string {
	return fmt.Sprintf("%s/panel", t.prefix)
}

func (t *Topics) System() string {
	return fmt.Sprintf("%s/system", t.prefix)
}

func (t *Topics) Raw() string {
	return fmt.Sprintf("%s/raw", t.prefix)
}

func (t *Topics) Zone(name string) string {
	return fmt.Sprintf("%s/zone/%s", t.prefix, util.Slugify(name))
}

func (t *Topics) OutputCommand(name string) string {
	return fmt.Sprintf("%s/output/%s/set", t.prefix, util.Slugify(name))
}
