package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/smallbiznis/dealbridge/internal/payout/domain"
)

type savePayoutMethodRequest struct {
	Kind          string `json:"kind"`
	HolderName    string `json:"holder_name"`
	VPA           string `json:"vpa"`
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
}

// SavePayoutMethod stores the cardholder's payout destination. The method
// is validated here once; disbursement later trusts the stored shape.
func (s *Server) SavePayoutMethod(c *gin.Context) {
	actor, _ := actorFrom(c)
	var req savePayoutMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	method := payoutdomain.Method{
		Kind:       payoutdomain.MethodKind(strings.TrimSpace(req.Kind)),
		HolderName: strings.TrimSpace(req.HolderName),
	}
	switch method.Kind {
	case payoutdomain.KindUPI:
		method.UPI = &payoutdomain.UPI{VPA: strings.TrimSpace(req.VPA)}
	case payoutdomain.KindBankAccount:
		method.BankAccount = &payoutdomain.BankAccount{
			AccountNumber: strings.TrimSpace(req.AccountNumber),
			IFSC:          strings.ToUpper(strings.TrimSpace(req.IFSC)),
		}
	}

	profile, err := s.payoutSvc.Save(c.Request.Context(), actor.ID, method)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": profile})
}

func (s *Server) GetPayoutMethod(c *gin.Context) {
	actor, _ := actorFrom(c)
	method, err := s.payoutSvc.Get(c.Request.Context(), actor.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": method})
}
