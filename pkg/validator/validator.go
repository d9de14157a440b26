package validator

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"

	"signalbridge/internal/model"
)

var (
	once     sync.Once
	validate *validator.Validate
	trans    ut.Translator
)

type ginValidator struct{}

func (ginValidator) ValidateStruct(obj any) error {
	if obj == nil {
		return nil
	}
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return Struct(obj)
}

func (ginValidator) Engine() any {
	return validate
}

// LazyInitGinValidator 替换 gin 默认校验器，错误信息按 language 翻译
func LazyInitGinValidator(language string) {
	initValidator(language)
	binding.Validator = ginValidator{}
}

func initValidator(language string) {
	once.Do(func() {
		validate = validator.New()
		validate.SetTagName("validate")
		// 错误信息里使用 json 字段名
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("direction", func(fl validator.FieldLevel) bool {
			_, err := model.ParseDirection(fl.Field().String())
			return err == nil
		})

		enLocale, zhLocale := en.New(), zh.New()
		uni := ut.New(enLocale, enLocale, zhLocale)
		if language == "zh" {
			trans, _ = uni.GetTranslator("zh")
			_ = zh_translations.RegisterDefaultTranslations(validate, trans)
		} else {
			trans, _ = uni.GetTranslator("en")
			_ = en_translations.RegisterDefaultTranslations(validate, trans)
		}
		_ = validate.RegisterTranslation("direction", trans,
			func(u ut.Translator) error {
				return u.Add("direction", "{0} must be buy or sell", true)
			},
			func(u ut.Translator, fe validator.FieldError) string {
				msg, _ := u.T("direction", fe.Field())
				return msg
			})
	})
}

// Struct 校验结构体，未初始化时使用英文
func Struct(obj any) error {
	initValidator("en")
	return validate.Struct(obj)
}

// Translate 把校验错误翻译成逐条提示
func Translate(err error) []string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(errs))
	for _, fe := range errs {
		out = append(out, fe.Translate(trans))
	}
	return out
}
