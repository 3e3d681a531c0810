package core

// controller.go implements the read-only facade described in §4.13: every
// method opens a fresh RO transaction and never touches the mutability
// lock, so dashboard/HTTP-read traffic never contends with invocations.
// Grounded on the teacher's read-side query helpers that wrap a View call
// per request rather than holding a long-lived cursor.

import "encoding/json"

// Controller exposes every read-only surface a host's HTTP layer needs:
// metadata, package contents, action history, ledger history, logs and
// subscriptions, all served off a consistent snapshot per call.
type Controller struct {
	DB Db
}

// NewController wires a controller against an already-open store.
func NewController(db Db) *Controller { return &Controller{DB: db} }

// Metadata loads entity's lifecycle record.
func (c *Controller) Metadata(entity Id) (Metadata, bool, error) {
	var m Metadata
	var ok bool
	err := c.DB.View(func(ro RoTxn) error {
		var err error
		m, ok, err = ReadMetadata(ro, entity)
		return err
	})
	return m, ok, err
}

// State evaluates the immutable http_get_state export via rt and returns
// its HTTP_STATUS/HTTP_RESULT registers; kept on the controller so the
// HTTP layer has one place to reach for both contract and agent reads.
func (c *Controller) State(rt *ContractRuntime, entity Id, path string) (status, result []byte, err error) {
	return rt.HTTPGetState(entity, path)
}

// Description returns the human-readable description recorded at
// introduction.
func (c *Controller) Description(entity Id) (string, error) {
	var desc string
	err := c.DB.View(func(ro RoTxn) error {
		bucket, ok := ro.Bucket(metaBucketFor(entity.Kind()))
		if !ok {
			return nil
		}
		b, ok := bucket.Get(metaKey(entity, MetaSubKeyDescription))
		if !ok {
			return nil
		}
		return decodeJSONString(b, &desc)
	})
	return desc, err
}

// Sinks returns the sink list recorded at introduction.
func (c *Controller) Sinks(entity Id) ([]Sink, error) {
	var sinks []Sink
	err := c.DB.View(func(ro RoTxn) error {
		bucket, ok := ro.Bucket(metaBucketFor(entity.Kind()))
		if !ok {
			return nil
		}
		b, ok := bucket.Get(metaKey(entity, MetaSubKeySinks))
		if !ok {
			return nil
		}
		return decodeJSONValue(b, &sinks)
	})
	return sinks, err
}

// Symbols reports the export names a contract/agent's compiled module
// advertises; since CodeStore.Load requires a concrete export list, the
// controller asks for an empty one and simply reports whatever the module
// exports.
func (c *Controller) Symbols(code *CodeStore, entity Id) ([]string, error) {
	var names []string
	err := c.DB.View(func(ro RoTxn) error {
		cm, err := code.Load(ro, entity, nil)
		if err != nil {
			return err
		}
		for name := range cm.Exports {
			names = append(names, name)
		}
		return nil
	})
	return names, err
}

// Package returns the entity's package definition and, if present, its
// source.
func (c *Controller) Package(entity Id) (Package, error) {
	var pkg Package
	err := c.DB.View(func(ro RoTxn) error {
		bucket, ok := ro.Bucket(metaBucketFor(entity.Kind()))
		if !ok {
			return nil
		}
		if b, ok := bucket.Get(metaKey(entity, MetaSubKeyPackageDefinition)); ok {
			if err := decodeJSONValue(b, &pkg.Definition); err != nil {
				return err
			}
		}
		if b, ok := bucket.Get(metaKey(entity, MetaSubKeyPackageSource)); ok {
			if err := decodeJSONValue(b, &pkg.Source); err != nil {
				return err
			}
		}
		return nil
	})
	return pkg, err
}

// Logs returns every log line recorded for entity.
func (c *Controller) Logs(entity Id) ([]LogLine, error) {
	var lines []LogLine
	err := c.DB.View(func(ro RoTxn) error {
		var err error
		lines, err = ReadLogs(ro, entity)
		return err
	})
	return lines, err
}

// Actions returns entity's full committed action history.
func (c *Controller) Actions(entity Id) ([]ActionRecord, error) {
	var recs []ActionRecord
	err := c.DB.View(func(ro RoTxn) error {
		var err error
		recs, err = ActionHistory(ro, entity)
		return err
	})
	return recs, err
}

// ActionByTx resolves a transaction hash to the action record it produced.
func (c *Controller) ActionByTx(tx TxIdentifier) (ActionRecord, bool, error) {
	var rec ActionRecord
	var found bool
	err := c.DB.View(func(ro RoTxn) error {
		rel, ok, err := FindActionByTx(ro, tx)
		if err != nil || !ok {
			return err
		}
		rec, found, err = GetAction(ro, rel.Entity, rel.Index)
		return err
	})
	return rec, found, err
}

// Ledger returns entity's full ledger history.
func (c *Controller) Ledger(entity Id) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := c.DB.View(func(ro RoTxn) error {
		var err error
		entries, err = LedgerHistory(ro, entity)
		return err
	})
	return entries, err
}

// Subs returns entity's topic's current subscriber list.
func (c *Controller) Subs(publisher Id, topic string) ([]Subscriber, error) {
	var subs []Subscriber
	err := c.DB.View(func(ro RoTxn) error {
		var err error
		subs, err = GetTopicSubscribers(ro, publisher, topic)
		return err
	})
	return subs, err
}

// Subscriptions returns every (publisher, topic, method) an agent is
// currently subscribed to.
func (c *Controller) Subscriptions(agent Id) ([]Subscription, error) {
	var subs []Subscription
	err := c.DB.View(func(ro RoTxn) error {
		var err error
		subs, err = GetSubscriptions(ro, agent)
		return err
	})
	return subs, err
}

// ParticipantRoles returns the roles a participant holds against contract.
func (c *Controller) ParticipantRoles(contract, participant Id) ([]Role, error) {
	var roles []Role
	err := c.DB.View(func(ro RoTxn) error {
		var err error
		roles, err = ReadParticipantRoles(ro, contract, participant)
		return err
	})
	return roles, err
}

func decodeJSONString(b []byte, out *string) error {
	return decodeJSONValue(b, out)
}

func decodeJSONValue(b []byte, out any) error {
	if err := json.Unmarshal(b, out); err != nil {
		return WrapErr(KindCorrupted, "decode stored field", err)
	}
	return nil
}
