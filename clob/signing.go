package clob

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/polymarket/go-order-utils/pkg/model"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// USDC 精度为 6，链上金额 = 十进制金额 * 1e6
var collateralScale = decimal.NewFromInt(1_000_000)

// orderAmounts 计算链上 maker/taker 金额。
//
// CLOB 校验 makerAmount == price * takerAmount（整数精度），
// 用 decimal 做舍入避免浮点误差被 API 以 400 拒掉：
//   - BUY:  maker = USDC 支出（2 位小数），taker = 份额（4 位小数）
//   - SELL: maker = 份额（2 位小数），taker = USDC 收入（4 位小数）
func orderAmounts(side Side, price, size float64) (maker, taker string, err error) {
	p := decimal.NewFromFloat(price)
	if p.LessThanOrEqual(decimal.Zero) || p.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return "", "", fmt.Errorf("价格必须在 (0,1) 内: %v", price)
	}
	s := decimal.NewFromFloat(size)
	if s.LessThanOrEqual(decimal.Zero) {
		return "", "", fmt.Errorf("数量必须 > 0: %v", size)
	}

	switch side {
	case SideBuy:
		// size 是份额；成本 = price * size
		shares := s.RoundDown(4)
		cost := shares.Mul(p).RoundUp(2)
		maker = cost.Mul(collateralScale).Truncate(0).String()
		taker = shares.Mul(collateralScale).Truncate(0).String()
	case SideSell:
		shares := s.RoundDown(2)
		revenue := shares.Mul(p).RoundDown(4)
		maker = shares.Mul(collateralScale).Truncate(0).String()
		taker = revenue.Mul(collateralScale).Truncate(0).String()
	default:
		return "", "", fmt.Errorf("无效方向: %s", side)
	}
	if maker == "0" || taker == "0" {
		return "", "", fmt.Errorf("金额舍入后为 0 (price=%v size=%v)", price, size)
	}
	return maker, taker, nil
}

// BuildSignedOrder 构建并签名限价订单（EIP712，经 go-order-utils）
func (c *Client) BuildSignedOrder(tokenID string, side Side, price, size float64, feeRateBps int, negRisk bool) (*model.SignedOrder, error) {
	makerAmt, takerAmt, err := orderAmounts(side, price, size)
	if err != nil {
		return nil, err
	}

	maker := c.address.Hex()
	if c.funder != "" {
		maker = c.funder
	}

	modelSide := model.BUY
	if side == SideSell {
		modelSide = model.SELL
	}

	contract := model.CTFExchange
	if negRisk {
		contract = model.NegRiskCTFExchange
	}

	orderData := &model.OrderData{
		Maker:         maker,
		Taker:         zeroAddress,
		TokenId:       tokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		FeeRateBps:    fmt.Sprintf("%d", feeRateBps),
		Nonce:         "0",
		Signer:        c.address.Hex(),
		Expiration:    "0",
		Side:          modelSide,
		SignatureType: model.SignatureType(c.sigType),
	}

	signed, err := c.orderBuilder.BuildSignedOrder(c.privateKey, orderData, contract)
	if err != nil {
		return nil, fmt.Errorf("构建签名订单失败: %w", err)
	}
	return signed, nil
}
