package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Venue implements ports.ExecutionVenue on Binance USD-M futures. Binance has
// no native ticket concept, so the entry order id doubles as the ticket id.
// The caller supplies the instrument symbol on every per-ticket call; the only
// adapter-side state is a protective-order cache that rebuilds itself from the
// venue's open close-position orders, so a restart loses nothing.
type Venue struct {
	client *futures.Client
	logger ports.Logger

	mu      sync.Mutex
	protect map[int64][2]int64 // ticket id -> {sl order id, tp order id}
}

// Config holds configuration specific to the Binance venue adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance venue adapter.
func New(cfg Config) (*Venue, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance venue")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: missing API credentials", ports.ErrConfigurationError)
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance venue configured", map[string]interface{}{
		"baseURL": client.BaseURL, "testnet": cfg.UseTestnet,
	})

	return &Venue{
		client:  client,
		logger:  cfg.Logger,
		protect: make(map[int64][2]int64),
	}, nil
}

// handleError translates Binance API errors into standardized ports errors.
func (v *Venue) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		var mappedErr error
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1022:
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1111, -1115, -1116, -1117, -1121, -4003, -4014, -4015:
			mappedErr = ports.ErrInvalidRequest
		case -2010:
			mappedErr = ports.ErrOrderPlacementFailed
		case -2013:
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015:
			mappedErr = ports.ErrAuthenticationFailed
		case -2019, -3005, -3041:
			mappedErr = ports.ErrInsufficientFunds
		case -4044:
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		v.logger.Error(ctx, err, operation+" failed with API error", fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w", operation, err)
	case strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "use of closed network connection"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrVenueUnavailable, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}
	v.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

// PlaceOrder places the entry order plus protective stop/take-profit orders.
// A zero params.Price means market execution.
func (v *Venue) PlaceOrder(ctx context.Context, params ports.OrderParams) (*ports.VenueTicket, error) {
	op := "PlaceOrder"
	svc := v.client.NewCreateOrderService().
		Symbol(params.Symbol).
		Side(sideFor(params.Direction)).
		Quantity(formatFloat(params.Volume)).
		NewClientOrderID(params.ClientID)

	if params.Price > 0 {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatFloat(params.Price))
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, v.handleError(ctx, err, op)
	}

	ticket := &ports.VenueTicket{
		TicketID:  order.OrderID,
		Symbol:    params.Symbol,
		Direction: params.Direction,
		Kind:      domain.KindOrder,
		Volume:    params.Volume,
		OpenPrice: params.Price,
	}
	if order.Status == futures.OrderStatusTypeFilled {
		ticket.Kind = domain.KindPosition
		if avg, perr := strconv.ParseFloat(order.AvgPrice, 64); perr == nil && avg > 0 {
			ticket.OpenPrice = avg
		}
	}

	if err := v.placeProtective(ctx, ticket.TicketID, params); err != nil {
		return nil, err
	}
	v.logger.Debug(ctx, "order placed", map[string]interface{}{
		"orderID": order.OrderID, "symbol": params.Symbol, "status": order.Status,
	})
	return ticket, nil
}

// placeProtective replaces the stop and take-profit close orders for a ticket.
// Zero levels leave the corresponding side unset.
func (v *Venue) placeProtective(ctx context.Context, ticketID int64, params ports.OrderParams) error {
	op := "PlaceProtective"
	var slID, tpID int64

	if params.StopLoss > 0 {
		order, err := v.client.NewCreateOrderService().
			Symbol(params.Symbol).
			Side(sideFor(params.Direction.Opposite())).
			Type(futures.OrderTypeStopMarket).
			StopPrice(formatFloat(params.StopLoss)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			return v.handleError(ctx, err, op)
		}
		slID = order.OrderID
	}
	if params.TakeProfit > 0 {
		order, err := v.client.NewCreateOrderService().
			Symbol(params.Symbol).
			Side(sideFor(params.Direction.Opposite())).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatFloat(params.TakeProfit)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			return v.handleError(ctx, err, op)
		}
		tpID = order.OrderID
	}

	v.mu.Lock()
	v.protect[ticketID] = [2]int64{slID, tpID}
	v.mu.Unlock()
	return nil
}

// Modify replaces the protective orders with new levels. A zero value keeps
// the current level for that side.
func (v *Venue) Modify(ctx context.Context, symbol string, ticketID int64, stopLoss, takeProfit float64) error {
	op := "Modify"
	vt, err := v.GetTicket(ctx, symbol, ticketID)
	if err != nil {
		return err
	}
	if vt == nil {
		return fmt.Errorf("%s failed: %w: ticket %d", op, ports.ErrPositionNotFound, ticketID)
	}

	if stopLoss == 0 {
		stopLoss = vt.StopLoss
	}
	if takeProfit == 0 {
		takeProfit = vt.TakeProfit
	}

	pair := v.protectiveFor(ctx, symbol, ticketID)
	for _, id := range pair {
		if id == 0 {
			continue
		}
		if _, err := v.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
			// Triggered or already-cancelled protective orders are fine.
			var apiErr *common.APIError
			if errors.As(err, &apiErr) && (apiErr.Code == -2011 || apiErr.Code == -2013) {
				continue
			}
			return v.handleError(ctx, err, op)
		}
	}
	return v.placeProtective(ctx, ticketID, ports.OrderParams{
		Symbol:     symbol,
		Direction:  vt.Direction,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
}

// ClosePartial closes the given volume of an open position at market.
func (v *Venue) ClosePartial(ctx context.Context, symbol string, ticketID int64, volume float64) error {
	op := "ClosePartial"
	vt, err := v.GetTicket(ctx, symbol, ticketID)
	if err != nil {
		return err
	}
	if vt == nil || vt.Kind != domain.KindPosition {
		return fmt.Errorf("%s failed: %w: ticket %d", op, ports.ErrPositionNotFound, ticketID)
	}

	_, err = v.client.NewCreateOrderService().
		Symbol(vt.Symbol).
		Side(sideFor(vt.Direction.Opposite())).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(volume)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return v.handleError(ctx, err, op)
	}
	v.logger.Debug(ctx, "position reduced", map[string]interface{}{"ticketID": ticketID, "volume": volume})
	return nil
}

// CancelOrder cancels a still-unfilled entry order and its protective orders.
func (v *Venue) CancelOrder(ctx context.Context, symbol string, ticketID int64) error {
	op := "CancelOrder"
	if _, err := v.client.NewCancelOrderService().Symbol(symbol).OrderID(ticketID).Do(ctx); err != nil {
		return v.handleError(ctx, err, op)
	}
	pair := v.protectiveFor(ctx, symbol, ticketID)
	v.mu.Lock()
	delete(v.protect, ticketID)
	v.mu.Unlock()
	for _, id := range pair {
		if id == 0 {
			continue
		}
		if _, err := v.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
			v.logger.Warn(ctx, "protective order cancel failed", map[string]interface{}{
				"orderID": id, "error": err.Error(),
			})
		}
	}
	return nil
}

// GetTicket returns the current state of one ticket, or nil, nil when the
// venue no longer has an order or position for it.
func (v *Venue) GetTicket(ctx context.Context, symbol string, ticketID int64) (*ports.VenueTicket, error) {
	op := "GetTicket"
	order, err := v.client.NewGetOrderService().Symbol(symbol).OrderID(ticketID).Do(ctx)
	if err != nil {
		mapped := v.handleError(ctx, err, op)
		if errors.Is(mapped, ports.ErrOrderNotFound) {
			return nil, nil
		}
		return nil, mapped
	}

	direction := domain.Buy
	if order.Side == futures.SideTypeSell {
		direction = domain.Sell
	}

	switch order.Status {
	case futures.OrderStatusTypeNew, futures.OrderStatusTypePartiallyFilled:
		price, _ := strconv.ParseFloat(order.Price, 64)
		qty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
		return &ports.VenueTicket{
			TicketID:  ticketID,
			Symbol:    symbol,
			Direction: direction,
			Kind:      domain.KindOrder,
			Volume:    qty,
			OpenPrice: price,
		}, nil
	case futures.OrderStatusTypeFilled:
		return v.positionTicket(ctx, ticketID, symbol, direction, order)
	default:
		// Canceled, rejected or expired: the venue no longer holds it.
		return nil, nil
	}
}

// positionTicket builds the ticket view of a filled entry order from the
// symbol's position risk data.
func (v *Venue) positionTicket(ctx context.Context, ticketID int64, symbol string, direction domain.Direction, order *futures.Order) (*ports.VenueTicket, error) {
	op := "GetPosition"
	risks, err := v.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, v.handleError(ctx, err, op)
	}
	for _, r := range risks {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		profit, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		vt := &ports.VenueTicket{
			TicketID:     ticketID,
			Symbol:       symbol,
			Direction:    direction,
			Kind:         domain.KindPosition,
			Volume:       absFloat(amt),
			OpenPrice:    entry,
			CurrentPrice: mark,
			Profit:       profit,
		}
		v.fillProtectiveLevels(ctx, vt)
		return vt, nil
	}
	// Order filled but no position left: closed by SL/TP or externally.
	return nil, nil
}

// fillProtectiveLevels reads current SL/TP from the ticket's close orders.
func (v *Venue) fillProtectiveLevels(ctx context.Context, vt *ports.VenueTicket) {
	pair := v.protectiveFor(ctx, vt.Symbol, vt.TicketID)
	for i, id := range pair {
		if id == 0 {
			continue
		}
		order, err := v.client.NewGetOrderService().Symbol(vt.Symbol).OrderID(id).Do(ctx)
		if err != nil {
			continue
		}
		level, _ := strconv.ParseFloat(order.StopPrice, 64)
		if i == 0 {
			vt.StopLoss = level
		} else {
			vt.TakeProfit = level
		}
	}
}

// ListOpenTickets returns all open entry orders and positions for the account.
func (v *Venue) ListOpenTickets(ctx context.Context) ([]*ports.VenueTicket, error) {
	op := "ListOpenTickets"
	orders, err := v.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, v.handleError(ctx, err, op)
	}
	tickets := make([]*ports.VenueTicket, 0, len(orders))
	for _, o := range orders {
		if o.ClosePosition {
			continue // protective orders are not tickets
		}
		direction := domain.Buy
		if o.Side == futures.SideTypeSell {
			direction = domain.Sell
		}
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		tickets = append(tickets, &ports.VenueTicket{
			TicketID:  o.OrderID,
			Symbol:    o.Symbol,
			Direction: direction,
			Kind:      domain.KindOrder,
			Volume:    qty,
			OpenPrice: price,
		})
	}
	return tickets, nil
}

// AccountState returns balance, equity and free margin.
func (v *Venue) AccountState(ctx context.Context) (*ports.AccountState, error) {
	op := "AccountState"
	account, err := v.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, v.handleError(ctx, err, op)
	}
	balance, _ := strconv.ParseFloat(account.TotalWalletBalance, 64)
	equity, _ := strconv.ParseFloat(account.TotalMarginBalance, 64)
	free, _ := strconv.ParseFloat(account.AvailableBalance, 64)
	return &ports.AccountState{Balance: balance, Equity: equity, FreeMargin: free}, nil
}

// InstrumentInfo returns contract metadata for a symbol.
func (v *Venue) InstrumentInfo(ctx context.Context, symbol string) (*ports.InstrumentInfo, error) {
	op := "InstrumentInfo"
	info, err := v.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, v.handleError(ctx, err, op)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		out := &ports.InstrumentInfo{
			Symbol:       symbol,
			ContractSize: 1,
			Tradable:     s.Status == "TRADING",
		}
		if f := s.LotSizeFilter(); f != nil {
			out.MinVolume, _ = strconv.ParseFloat(f.MinQuantity, 64)
			out.VolumeStep, _ = strconv.ParseFloat(f.StepSize, 64)
		}
		price, perr := v.TickerPrice(ctx, symbol)
		if perr != nil {
			return nil, perr
		}
		// Margin for one unit at current price, assuming account leverage 1
		// unless the symbol already has a position with leverage set.
		leverage := 1.0
		if risks, rerr := v.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx); rerr == nil {
			for _, r := range risks {
				if lv, lerr := strconv.ParseFloat(r.Leverage, 64); lerr == nil && lv > 0 {
					leverage = lv
					break
				}
			}
		}
		out.MarginPerLot = price / leverage
		return out, nil
	}
	return nil, fmt.Errorf("%s failed: %w: %s", op, ports.ErrSymbolNotTradable, symbol)
}

// TickerPrice returns the last traded price for a symbol.
func (v *Venue) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "TickerPrice"
	prices, err := v.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, v.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("%s failed: no price data for %s", op, symbol)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("%s failed: could not parse price %q: %w", op, prices[0].Price, err)
	}
	return price, nil
}

// Ping checks connectivity to the venue.
func (v *Venue) Ping(ctx context.Context) error {
	if err := v.client.NewPingService().Do(ctx); err != nil {
		return v.handleError(ctx, err, "Ping")
	}
	return nil
}

// protectiveFor returns the protective close-order ids for a ticket,
// rebuilding the cache entry from the symbol's open close-position orders
// after a restart. One-way position mode means the symbol's close-position
// orders belong to this ticket's position.
func (v *Venue) protectiveFor(ctx context.Context, symbol string, ticketID int64) [2]int64 {
	v.mu.Lock()
	pair, ok := v.protect[ticketID]
	v.mu.Unlock()
	if ok {
		return pair
	}
	orders, err := v.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		v.logger.Warn(ctx, "protective order lookup failed", map[string]interface{}{
			"symbol": symbol, "ticketID": ticketID, "error": err.Error(),
		})
		return pair
	}
	for _, o := range orders {
		if !o.ClosePosition {
			continue
		}
		switch o.Type {
		case futures.OrderTypeStopMarket:
			pair[0] = o.OrderID
		case futures.OrderTypeTakeProfitMarket:
			pair[1] = o.OrderID
		}
	}
	v.mu.Lock()
	v.protect[ticketID] = pair
	v.mu.Unlock()
	return pair
}

func sideFor(d domain.Direction) futures.SideType {
	if d == domain.Sell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
