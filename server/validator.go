package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var trans ut.Translator

// InitValidator 注册英文的校验错误翻译
func InitValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	uni := ut.New(en.New())
	trans, _ = uni.GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(v, trans); err != nil {
		log.Error().Msgf("InitValidator err is %s", err.Error())
	}
}

// HandleValidatorError 参数校验失败
func HandleValidatorError(c *gin.Context, err error) {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || trans == nil {
		APIResponse(c, &Err{Code: ErrParam.Code, Message: ErrParam.Message, Err: err}, nil)
		return
	}
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Translate(trans))
	}
	APIResponse(c, &Err{Code: ErrParam.Code, Message: strings.Join(messages, "; "), Err: err}, nil)
}
