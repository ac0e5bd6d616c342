package models

import "time"

// Connection slots.
const (
	SlotDefault  = "default"
	SlotIndexer  = "indexer"
	SlotCheckout = "checkout"
	SlotSales    = "sales"
)

// Connection keys understood by the relationship resolver.
const (
	ConnectionMain       = "main"
	ConnectionSlave      = "slave"
	ConnectionQuoteMain  = "quote-main"
	ConnectionQuoteSlave = "quote-slave"
	ConnectionSalesMain  = "sales-main"
	ConnectionSalesSlave = "sales-slave"
)

// Resource names.
const (
	ResourceDefaultSetup = "default_setup"
	ResourceCheckout     = "checkout"
	ResourceSales        = "sales"
)

// Top-level and nested keys of the persisted configuration.
const (
	KeyDB              = "db"
	KeyResource        = "resource"
	KeyConnection      = "connection"
	KeySlaveConnection = "slave_connection"
)

// ConnectionDescriptor is the connection data of one relationship entry.
type ConnectionDescriptor struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// ConnectionSlot maps a logical database role to its connection keys.
type ConnectionSlot struct {
	Name     string
	Primary  string
	Slave    string // empty if the slot has no replica
	Required bool
}

// HasSlave reports whether the slot declares a slave connection key.
func (s ConnectionSlot) HasSlave() bool {
	return s.Slave != ""
}

// Slots lists the connection slots in their stable iteration order.
var Slots = []ConnectionSlot{
	{Name: SlotDefault, Primary: ConnectionMain, Slave: ConnectionSlave, Required: true},
	{Name: SlotIndexer, Primary: ConnectionMain, Required: true},
	{Name: SlotCheckout, Primary: ConnectionQuoteMain, Slave: ConnectionQuoteSlave},
	{Name: SlotSales, Primary: ConnectionSalesMain, Slave: ConnectionSalesSlave},
}

// SlotByName returns the slot definition with the given name.
func SlotByName(name string) (ConnectionSlot, bool) {
	for _, s := range Slots {
		if s.Name == name {
			return s, true
		}
	}
	return ConnectionSlot{}, false
}

// ResourceNames maps slots to the resource that uses them.
var ResourceNames = map[string]string{
	SlotDefault:  ResourceDefaultSetup,
	SlotCheckout: ResourceCheckout,
	SlotSales:    ResourceSales,
}

// DBConfig is the {db, resource} pair produced by the configuration builder.
type DBConfig struct {
	DB       map[string]any
	Resource map[string]any
}

// ProbeResult holds the result of a connection probe.
type ProbeResult struct {
	Host          string
	DBName        string
	ServerVersion string
	Latency       time.Duration
	Error         error
}
