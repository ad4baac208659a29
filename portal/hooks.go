package portal

// Notifier receives lifecycle events from the portal. Calls are made from the
// loop goroutine and must not block for long.
type Notifier interface {
	// OnEnterProvisioning fires once the access point and DNS redirect are up.
	OnEnterProvisioning(p *Portal)
	// OnCredentialsSaved fires after a submission connects, or after any
	// submission when the portal is configured to close once configured.
	OnCredentialsSaved()
}

// NotifierFuncs adapts plain functions to a Notifier. Nil fields are skipped.
type NotifierFuncs struct {
	EnterProvisioning func(p *Portal)
	CredentialsSaved  func()
}

func (n NotifierFuncs) OnEnterProvisioning(p *Portal) {
	if n.EnterProvisioning != nil {
		n.EnterProvisioning(p)
	}
}

func (n NotifierFuncs) OnCredentialsSaved() {
	if n.CredentialsSaved != nil {
		n.CredentialsSaved()
	}
}

// NopNotifier ignores every event.
type NopNotifier struct{}

func (NopNotifier) OnEnterProvisioning(*Portal) {}
func (NopNotifier) OnCredentialsSaved()         {}

// Indicator is a status light toggled while the portal hosts its access point.
type Indicator interface {
	Set(on bool)
}

// IndicatorFunc adapts a function to an Indicator.
type IndicatorFunc func(on bool)

func (f IndicatorFunc) Set(on bool) { f(on) }

type nopIndicator struct{}

func (nopIndicator) Set(bool) {}
